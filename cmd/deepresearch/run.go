package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	jsonOutput   bool
	rawOutput    bool
	modeOverride string
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Research a question and print a synthesized report",
	Long: `Runs the full pipeline: discovery, per-platform specialists, synthesis.

Specialist failures degrade the report instead of failing it; they are listed
under diagnostics. A run fails only when synthesis fails or it is canceled,
in which case the structured failure is printed as JSON and the exit code is 1.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

var (
	summaryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5a935"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

// errRunFailed is returned after a FlowError was already reported.
type errRunFailed struct{ kind types.FailureKind }

func (e errRunFailed) Error() string { return "run failed: " + string(e.kind) }

func runResearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if modeOverride != "" {
		cfg.Discovery.Mode = modeOverride
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	}
	defer logging.CloseAll()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("Failed to release resources", zap.Error(err))
		}
	}()

	logger.Info("Starting research", zap.String("query", query))
	result, err := p.research.Run(ctx, query)
	if err != nil {
		fe, ok := types.AsFlowError(err)
		if !ok {
			return err
		}
		printFailure(cmd.OutOrStdout(), cmd.ErrOrStderr(), fe)
		return errRunFailed{kind: fe.Kind}
	}

	return printResult(cmd.OutOrStdout(), result)
}

// printResult writes the report in the requested format.
func printResult(w io.Writer, result *types.FlowResult) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	text := result.SynthesizedText
	if !rawOutput {
		text = renderMarkdown(text)
	}
	fmt.Fprintln(w, text)

	fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf("%d evidence records, %d failed branches in %dms",
		result.EvidenceCount, result.ErrorCount, result.DurationMS)))
	for _, d := range result.Diagnostics {
		fmt.Fprintln(w, warnStyle.Render("  ! "+d))
	}
	fmt.Fprintln(w, mutedStyle.Render("run "+result.RunID))
	return nil
}

// printFailure writes the FlowError as JSON on stdout and a styled line on stderr.
func printFailure(out, errOut io.Writer, fe *types.FlowError) {
	data, err := json.Marshal(fe)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"kind":%q}`, fe.Kind))
	}
	fmt.Fprintln(out, string(data))
	fmt.Fprintln(errOut, errorStyle.Render(fmt.Sprintf("research failed at %s: %s", fe.Stage, fe.Kind)))
}

// renderMarkdown renders for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// commandContext returns the command's context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
