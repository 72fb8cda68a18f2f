// ragchat is a terminal chat client over a small bundled reference library.
// It retrieves passages for the first question, assembles them into a
// grounding context, opens a conversation session against an
// OpenAI-compatible endpoint, and streams the answer into a scrollback
// viewport with a token usage line after every turn.
//
// Configuration is taken from the environment:
//
//	OPENAI_BASE_URL  endpoint base URL (default https://api.openai.com/v1;
//	                 point it at a local vLLM or llama.cpp server instead)
//	OPENAI_API_KEY   bearer token, omitted from requests when empty
//	RAGCHAT_MODEL    model name known to the capability registry
//	                 (default gpt-4o-mini)
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	sessions "github.com/lectern-ai/lectern-core/core"
	"github.com/lectern-ai/lectern-core/core/events"
	"github.com/lectern-ai/lectern-core/core/grounding"
	"github.com/lectern-ai/lectern-core/core/llms"
	"github.com/lectern-ai/lectern-core/core/llms/openaicompat"
)

const (
	defaultProvider = "openai"
	defaultModel    = "gpt-4o-mini"

	systemPrompt = "You are the reading-room assistant of a small maritime " +
		"library. Answer from the referenced passages when they cover the " +
		"question, and say plainly when they do not."
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	modelName := os.Getenv("RAGCHAT_MODEL")
	if modelName == "" {
		modelName = defaultModel
	}

	registry := llms.NewRegistry()
	capabilities, err := registry.CapabilitiesFor(defaultProvider, modelName)
	if err != nil {
		return fmt.Errorf("cannot chat with %s: %w", modelName, err)
	}

	clientOpts := []openaicompat.Option{openaicompat.WithModel(modelName)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientOpts = append(clientOpts, openaicompat.WithBaseURL(baseURL))
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		clientOpts = append(clientOpts, openaicompat.WithAPIKey(apiKey))
	}

	library := newLibrary()
	app := newModel(appConfig{
		provider:  defaultProvider,
		modelName: modelName,
		backend:   openaicompat.New(clientOpts...),
		registry:  registry,
		builder:   grounding.NewBuilder(library),
		chunks:    library.rankedChunks(),
		params: grounding.Params{
			ModelMaxTokens: capabilities.MaxContextTokens,
			Cushion:        sessions.DefaultReservedResponseTokens,
			Dedup:          grounding.DedupCombine,
		},
	})

	program := tea.NewProgram(app, tea.WithAltScreen())
	finalModel, err := program.Run()
	if m, ok := finalModel.(model); ok && m.session != nil {
		m.session.Destroy()
	}
	return err
}

// library is the bundled in-memory corpus standing in for a retrieval
// engine. It resolves passages by byte offsets, the same contract a vector
// store front-end would implement.
type library struct {
	passages map[string]string
}

func newLibrary() *library {
	return &library{passages: map[string]string{
		"tides/primer": "Tides are the rise and fall of sea level caused by " +
			"the gravitational pull of the Moon and, to a lesser degree, the " +
			"Sun. Most coasts see two high and two low tides in just over a " +
			"day. The difference between high and low water is the tidal " +
			"range, and it swings with the lunar cycle: spring tides near " +
			"full and new moon, neap tides near the quarters.",
		"lighthouses/fresnel": "A Fresnel lens concentrates a lamp's light " +
			"into a narrow horizontal beam using concentric prismatic rings. " +
			"Orders run from first, the largest, used in landfall lights, " +
			"down to sixth, for harbor and pier lights. Each station's " +
			"rotation speed and flash pattern form its characteristic, " +
			"listed in the light lists mariners carry.",
		"currents/gulfstream": "The Gulf Stream is a warm western boundary " +
			"current that moves more water than all the world's rivers " +
			"combined. It leaves the Florida Straits, hugs the American " +
			"coast to Cape Hatteras, then bends east toward Europe, " +
			"moderating winters on both sides of the Atlantic.",
		"navigation/deadreckoning": "Dead reckoning advances a known " +
			"position by course steered and distance run, with corrections " +
			"for set and drift. Before satellite navigation it was the " +
			"backbone of every passage plan, checked against celestial " +
			"fixes whenever the sky allowed.",
	}}
}

func (l *library) ResolvePassage(ctx context.Context, sourceID string, startOffset, endOffset int) (string, error) {
	passage, ok := l.passages[sourceID]
	if !ok {
		return "", fmt.Errorf("unknown source %q", sourceID)
	}
	if startOffset < 0 || endOffset > len(passage) || startOffset > endOffset {
		return "", fmt.Errorf("offsets [%d:%d) outside source %q", startOffset, endOffset, sourceID)
	}
	return passage[startOffset:endOffset], nil
}

// rankedChunks returns the whole corpus as a ranked chunk list, the shape a
// retrieval engine would hand over for a query.
func (l *library) rankedChunks() []grounding.Chunk {
	ordered := []struct {
		sourceID string
		score    float64
	}{
		{"tides/primer", 0.92},
		{"lighthouses/fresnel", 0.83},
		{"currents/gulfstream", 0.77},
		{"navigation/deadreckoning", 0.64},
	}
	chunks := make([]grounding.Chunk, 0, len(ordered))
	for _, entry := range ordered {
		chunks = append(chunks, grounding.Chunk{
			SourceID:        entry.sourceID,
			StartOffset:     0,
			EndOffset:       len(l.passages[entry.sourceID]),
			SimilarityScore: entry.score,
		})
	}
	return chunks
}

type appConfig struct {
	provider  string
	modelName string
	backend   llms.ReplayBackend
	registry  *llms.Registry
	builder   *grounding.Builder
	chunks    []grounding.Chunk
	params    grounding.Params
}

type speaker string

const (
	speakerUser      speaker = "you"
	speakerAssistant speaker = "assistant"
	speakerSystem    speaker = "library"
)

type chatLine struct {
	speaker speaker
	text    string
}

// turnEventMsg carries one session event (or the turn's error) from the
// streaming goroutine into the program loop.
type turnEventMsg struct {
	event events.Event
	err   error
}

// turnClosedMsg signals that the turn's event stream has ended.
type turnClosedMsg struct{}

type uiTheme struct {
	header    lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	system    lipgloss.Style
	usage     lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	footer    lipgloss.Style
}

func newTheme() uiTheme {
	teal := lipgloss.Color("#2dd4bf")
	gold := lipgloss.Color("#fbbf24")
	muted := lipgloss.Color("#94a3b8")
	rose := lipgloss.Color("#fb7185")

	return uiTheme{
		header:    lipgloss.NewStyle().Foreground(teal).Bold(true).Padding(0, 1),
		user:      lipgloss.NewStyle().Foreground(gold).Bold(true),
		assistant: lipgloss.NewStyle().Foreground(teal).Bold(true),
		system:    lipgloss.NewStyle().Foreground(muted).Bold(true),
		usage:     lipgloss.NewStyle().Foreground(muted),
		status:    lipgloss.NewStyle().Foreground(teal),
		errStatus: lipgloss.NewStyle().Foreground(rose).Bold(true),
		footer:    lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
	}
}

type model struct {
	cfg appConfig

	session    *sessions.Session
	transcript []chatLine
	response   string
	usage      *llms.UsageReport
	turnCh     chan turnEventMsg

	inflight   bool
	statusLine string
	statusErr  bool

	width  int
	height int

	input   textinput.Model
	history viewport.Model
	spinner spinner.Model
	theme   uiTheme
}

func newModel(cfg appConfig) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask the library something"
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#2dd4bf"))

	return model{
		cfg:        cfg,
		statusLine: "no session yet, the first question opens one",
		input:      input,
		history:    viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTranscript()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case turnEventMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			m.transcript = append(m.transcript, chatLine{speaker: speakerSystem, text: "turn failed: " + msg.err.Error()})
			m.response = ""
			m.renderTranscript()
			return m, tea.Batch(append(cmds, awaitTurnEvent(m.turnCh))...)
		}
		switch event := msg.event.(type) {
		case events.ResponseSegment:
			m.response += event.Segment
		case events.TurnUsage:
			report := event.Report
			m.usage = &report
		}
		m.renderTranscript()
		return m, tea.Batch(append(cmds, awaitTurnEvent(m.turnCh))...)

	case turnClosedMsg:
		m.inflight = false
		m.turnCh = nil
		if m.response != "" {
			m.transcript = append(m.transcript, chatLine{speaker: speakerAssistant, text: m.response})
			m.response = ""
		}
		m.renderTranscript()
		m.input.Focus()
		cmds = append(cmds, textinput.Blink)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if m.inflight {
				return m, tea.Batch(cmds...)
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			m.transcript = append(m.transcript, chatLine{speaker: speakerUser, text: text})
			cmd, err := m.beginTurn(text)
			if err != nil {
				m.setStatus(err.Error(), true)
				m.renderTranscript()
				return m, tea.Batch(cmds...)
			}
			m.renderTranscript()
			cmds = append(cmds, cmd)
			return m, tea.Batch(cmds...)
		case "pgup", "ctrl+b":
			m.history.LineUp(8)
		case "pgdown", "ctrl+f":
			m.history.LineDown(8)
		case "home":
			m.history.GotoTop()
		case "end":
			m.history.GotoBottom()
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// beginTurn opens the session on the first question, grounding it on the
// passages retrieved for that question, then streams the turn's events into
// the program loop through a channel.
func (m *model) beginTurn(text string) (tea.Cmd, error) {
	if m.session == nil {
		grounded, err := m.cfg.builder.Build(context.Background(), text, m.cfg.chunks, m.cfg.params)
		if err != nil {
			return nil, err
		}
		session, err := sessions.New(m.cfg.provider, m.cfg.modelName,
			sessions.WithCapabilityRegistry(m.cfg.registry),
			sessions.WithReplayBackend(m.cfg.backend),
			sessions.WithSystemPrompt(systemPrompt),
			sessions.WithGroundingContext(grounded),
		)
		if err != nil {
			return nil, err
		}
		m.session = session
		m.setStatus(fmt.Sprintf("session opened, grounded on %d passages (%d tokens)",
			len(grounded.UsedChunks), grounded.TokenEstimate), false)
	}

	ch := make(chan turnEventMsg, 16)
	m.turnCh = ch
	m.inflight = true
	m.response = ""
	m.input.Blur()

	session := m.session
	go func() {
		defer close(ch)
		for event, err := range session.SendMessage(context.Background(), text) {
			ch <- turnEventMsg{event: event, err: err}
		}
	}()

	return awaitTurnEvent(ch), nil
}

func awaitTurnEvent(ch <-chan turnEventMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return turnClosedMsg{}
		}
		return msg
	}
}

func (m *model) setStatus(text string, isErr bool) {
	m.statusLine = text
	m.statusErr = isErr
}

func (m *model) resize() {
	m.history.Width = max(20, m.width-2)
	m.history.Height = max(5, m.height-6)
	m.input.Width = max(20, m.width-6)
}

func (m *model) renderTranscript() {
	width := max(24, m.history.Width-2)

	var b strings.Builder
	if len(m.transcript) == 0 && m.response == "" {
		b.WriteString(wordwrap.String(
			"The library holds a few passages on tides, lighthouses, currents "+
				"and navigation. Ask a question to open a grounded session.", width))
	}
	for _, line := range m.transcript {
		b.WriteString(m.speakerStyle(line.speaker).Render(string(line.speaker)))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(line.text, width))
		b.WriteString("\n\n")
	}
	if m.inflight && m.response != "" {
		b.WriteString(m.theme.assistant.Render(string(speakerAssistant)))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(m.response, width))
		b.WriteString("\n")
	}

	m.history.SetContent(strings.TrimRight(b.String(), "\n"))
	m.history.GotoBottom()
}

func (m *model) speakerStyle(s speaker) lipgloss.Style {
	switch s {
	case speakerUser:
		return m.theme.user
	case speakerAssistant:
		return m.theme.assistant
	}
	return m.theme.system
}

func (m model) View() string {
	header := m.theme.header.Render("ragchat · " + m.cfg.provider + "/" + m.cfg.modelName)

	inputLine := m.input.View()
	if m.inflight {
		inputLine = m.spinner.View() + " " + inputLine
	}

	status := m.theme.status.Render(m.statusLine)
	if m.statusErr {
		status = m.theme.errStatus.Render(m.statusLine)
	}

	usageLine := m.theme.usage.Render("no turns yet")
	if m.usage != nil {
		usageLine = m.theme.usage.Render(fmt.Sprintf(
			"turn %d · %d tokens this turn · %d used · %d of %d available",
			m.usage.TurnNumber, m.usage.TurnTotalTokens, m.usage.Used,
			m.usage.Available, m.usage.Limit))
	}

	footer := m.theme.footer.Render("enter send · pgup/pgdn scroll · esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.history.View(),
		inputLine,
		status+"  "+usageLine,
		footer,
	)
}
