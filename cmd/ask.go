package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stratuscode/stratus/internal/signal"
	"github.com/stratuscode/stratus/internal/timeline"
	"github.com/stratuscode/stratus/internal/turn"
)

var (
	askFlags SessionFlags
	askText  bool
	askQuiet bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run one turn and print the answer",
	Long: `Send a single message to the assistant, let it use its tools, and
print the final answer followed by token usage.

Examples:
  stratus ask "Where is the retry logic implemented?"
  stratus ask --agent plan "Add a cache in front of the session store"
  stratus ask "Explain @internal/turn/controller.go"
  git diff | stratus ask "Review this change"`,
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	AddSessionFlags(askCmd, &askFlags)
	askCmd.Flags().BoolVarP(&askText, "text", "t", false, "Print plain text instead of rendered markdown")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "Do not print tool activity")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if stdin := readPipedStdin(); stdin != "" {
		question = strings.TrimSpace(question + "\n\n" + stdin)
	}
	if question == "" {
		return errors.New("a question is required")
	}

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	var listener turn.Listener = quietListener{}
	if !askQuiet {
		listener = newProgressListener(os.Stderr)
	}
	a, err := newApp(&askFlags, listener, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stopAbort := signal.OnCancel(ctx, a.ctrl.Abort)
	a.ctrl.Submit(ctx, question, turn.SubmitOptions{})
	stopAbort()

	st := a.ctrl.State()
	answer := lastAssistant(st.TimelineEvents)
	if answer != "" {
		printAnswer(os.Stdout, answer)
	}
	fmt.Fprintf(os.Stdout, "\nTokens: %d in / %d out\n", st.Tokens.Input, st.Tokens.Output)
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

func lastAssistant(events []timeline.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == timeline.KindAssistant {
			return events[i].Content
		}
	}
	return ""
}

func printAnswer(w io.Writer, answer string) {
	if askText || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(w, answer)
		return
	}
	rendered, err := renderMarkdown(answer, terminalWidth())
	if err != nil {
		fmt.Fprintln(w, answer)
		return
	}
	fmt.Fprint(w, rendered)
}

func renderMarkdown(content string, width int) (string, error) {
	style := styles.DraculaStyleConfig
	margin := uint(0)
	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return "", err
	}
	result := strings.TrimSpace(rendered)
	if result != "" {
		result += "\n"
	}
	return result, nil
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func readPipedStdin() string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// progressListener prints tool activity and advisories to stderr while a
// headless turn runs.
type progressListener struct {
	quietListener
	w     io.Writer
	muted lipgloss.Style
	fail  lipgloss.Style
}

func newProgressListener(w io.Writer) *progressListener {
	r := lipgloss.NewRenderer(w)
	return &progressListener{
		w:     w,
		muted: r.NewStyle().Foreground(lipgloss.Color("245")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (p *progressListener) TimelineEvent(ev timeline.Event) {
	if ev.Kind != timeline.KindToolCall || ev.Status != "running" {
		return
	}
	args := ev.Content
	if len(args) > 80 {
		args = args[:77] + "..."
	}
	fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf("→ %s %s", ev.ToolName, args)))
}

func (p *progressListener) ContextStatus(status string) {
	if status != "" {
		fmt.Fprintln(p.w, p.muted.Render(status))
	}
}

func (p *progressListener) Error(msg string) {
	fmt.Fprintln(p.w, p.fail.Render("error: "+msg))
}

type quietListener struct{}

func (quietListener) State(turn.State)               {}
func (quietListener) TimelineEvent(timeline.Event)   {}
func (quietListener) TokensUpdate(turn.TokensUpdate) {}
func (quietListener) ContextStatus(string)           {}
func (quietListener) PlanExitProposed(bool)          {}
func (quietListener) SessionChanged(string)          {}
func (quietListener) Error(string)                   {}
