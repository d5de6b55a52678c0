package pager

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/kk-code-lab/rview/internal/engine"
	"github.com/kk-code-lab/rview/internal/textutil"
)

const indexingRedrawInterval = 100 * time.Millisecond

type promptKind int

const (
	promptNone promptKind = iota
	promptSearch
	promptGoto
)

// Pager is the interactive front end. It owns the screen and keybindings;
// every piece of file, index, and search state lives in the engine.
type Pager struct {
	screen tcell.Screen
	eng    *engine.LargeFileEngine

	width  int
	height int

	prompt      promptKind
	promptInput []rune

	// hexAnchor is the row the hex incremental search resolves from; the
	// engine's own session handles text-mode anchoring.
	hexAnchor int
	hexQuery  string

	// hexMatch is the exact byte offset of the last hex search hit, or -1.
	// Repeated find-next resolves from it: the scroll row alone rounds
	// down to the row start and would rediscover the same match.
	hexMu    sync.Mutex
	hexMatch int64

	msgMu   sync.Mutex
	message string

	redrawCh chan struct{}
	quit     bool
}

// New initializes the terminal screen for eng.
func New(eng *engine.LargeFileEngine) (*Pager, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}

	p := &Pager{
		screen:   screen,
		eng:      eng,
		hexMatch: -1,
		redrawCh: make(chan struct{}, 1),
	}
	p.width, p.height = screen.Size()
	eng.SetViewportHeight(p.bodyRows())
	return p, nil
}

// Run drives the event loop until the user quits.
func (p *Pager) Run() {
	defer p.screen.Fini()

	eventChan := make(chan tcell.Event)
	go func() {
		for {
			eventChan <- p.screen.PollEvent()
		}
	}()

	var indexTimer *time.Timer
	var indexCh <-chan time.Time
	startIndexTimer := func() {
		if indexTimer == nil {
			indexTimer = time.NewTimer(indexingRedrawInterval)
		} else {
			if !indexTimer.Stop() {
				select {
				case <-indexTimer.C:
				default:
				}
			}
			indexTimer.Reset(indexingRedrawInterval)
		}
		indexCh = indexTimer.C
	}
	stopIndexTimer := func() {
		if indexTimer == nil {
			return
		}
		if !indexTimer.Stop() {
			select {
			case <-indexTimer.C:
			default:
			}
		}
		indexCh = nil
	}

	for !p.quit {
		p.draw()

		if p.eng.IsIndexing() {
			startIndexTimer()
		} else {
			stopIndexTimer()
		}

		select {
		case ev := <-eventChan:
			p.handleEvent(ev)
		case <-indexCh:
		case <-p.redrawCh:
		}
	}
	stopIndexTimer()
}

// postRedraw wakes the event loop from a search callback goroutine.
func (p *Pager) postRedraw() {
	select {
	case p.redrawCh <- struct{}{}:
	default:
	}
}

func (p *Pager) setMessage(msg string) {
	p.msgMu.Lock()
	p.message = msg
	p.msgMu.Unlock()
}

func (p *Pager) currentMessage() string {
	p.msgMu.Lock()
	defer p.msgMu.Unlock()
	return p.message
}

func (p *Pager) bodyRows() int {
	rows := p.height - 1
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (p *Pager) handleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if p.prompt != promptNone {
			p.handlePromptKey(ev)
			return
		}
		p.handleKey(ev)
	case *tcell.EventResize:
		p.width, p.height = ev.Size()
		p.eng.SetViewportHeight(p.bodyRows())
		p.screen.Sync()
	}
}

func (p *Pager) handleKey(ev *tcell.EventKey) {
	page := p.bodyRows() - 1
	if page < 1 {
		page = 1
	}

	switch ev.Key() {
	case tcell.KeyUp:
		p.eng.ScrollBy(-1)
	case tcell.KeyDown:
		p.eng.ScrollBy(1)
	case tcell.KeyPgUp:
		p.eng.ScrollBy(-page)
	case tcell.KeyPgDn:
		p.eng.ScrollBy(page)
	case tcell.KeyHome:
		p.eng.SetScrollOffset(0)
	case tcell.KeyEnd:
		p.eng.ScrollToEnd()
	case tcell.KeyCtrlC, tcell.KeyEscape:
		p.quit = true
	case tcell.KeyRune:
		p.handleRune(ev.Rune(), page)
	}
}

func (p *Pager) handleRune(r rune, page int) {
	switch r {
	case 'q':
		p.quit = true
	case 'k':
		p.eng.ScrollBy(-1)
	case 'j':
		p.eng.ScrollBy(1)
	case ' ':
		p.eng.ScrollBy(page)
	case 'b':
		p.eng.ScrollBy(-page)
	case 'm':
		if p.eng.Mode() == engine.ModeText {
			p.eng.SetMode(engine.ModeHex)
		} else {
			p.eng.SetMode(engine.ModeText)
		}
		p.setMessage("")
	case 'e':
		next := p.eng.CycleEncoding()
		p.setMessage("encoding: " + next.String())
	case '/':
		p.openSearchPrompt()
	case 'n':
		p.findAgain(false)
	case 'N':
		p.findAgain(true)
	case 'g':
		p.prompt = promptGoto
		p.promptInput = nil
	}
}

func (p *Pager) openSearchPrompt() {
	p.prompt = promptSearch
	p.promptInput = nil
	p.setMessage("")
	if p.eng.Mode() == engine.ModeHex {
		p.hexAnchor = p.eng.ScrollOffset()
		p.setHexMatch(-1)
		return
	}
	p.eng.StartIncrementalSearch(false, true)
}

func (p *Pager) handlePromptKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		p.abandonPrompt()
	case tcell.KeyEnter:
		p.commitPrompt()
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(p.promptInput) > 0 {
			p.promptInput = p.promptInput[:len(p.promptInput)-1]
			p.promptChanged()
		}
	case tcell.KeyRune:
		p.promptInput = append(p.promptInput, ev.Rune())
		p.promptChanged()
	}
}

func (p *Pager) abandonPrompt() {
	kind := p.prompt
	p.prompt = promptNone
	p.promptInput = nil
	if kind == promptSearch {
		if p.eng.Mode() == engine.ModeHex {
			p.setHexMatch(-1)
			p.eng.SetScrollOffset(p.hexAnchor)
		} else {
			p.eng.CancelIncrementalSearch()
		}
	}
	p.setMessage("")
}

func (p *Pager) commitPrompt() {
	kind := p.prompt
	input := string(p.promptInput)
	p.prompt = promptNone
	p.promptInput = nil

	switch kind {
	case promptSearch:
		if p.eng.Mode() == engine.ModeHex {
			p.hexQuery = input
		} else {
			p.eng.CommitSearch()
		}
	case promptGoto:
		if n, err := strconv.Atoi(input); err == nil && n > 0 {
			p.eng.SetScrollOffset(n - 1)
		}
	}
}

func (p *Pager) promptChanged() {
	if p.prompt != promptSearch {
		return
	}
	q := string(p.promptInput)
	p.setMessage("")
	if p.eng.Mode() == engine.ModeHex {
		p.hexSearchFrom(q, int64(p.hexAnchor)*engine.HexBytesPerRow-1, false)
		return
	}
	p.eng.UpdateIncrementalSearch(q, func(res engine.SearchResult) {
		if !res.Found {
			p.setMessage("not found")
		}
		p.postRedraw()
	})
}

func (p *Pager) findAgain(backwards bool) {
	if p.eng.Mode() == engine.ModeHex {
		if p.hexQuery == "" {
			return
		}
		p.hexSearchFrom(p.hexQuery, p.hexResumeOffset(), backwards)
		return
	}
	onResult := func(res engine.SearchResult) {
		if !res.Found {
			p.setMessage("no more matches")
		}
		p.postRedraw()
	}
	if backwards {
		p.eng.FindPrev(onResult)
	} else {
		p.eng.FindNext(onResult)
	}
}

func (p *Pager) hexSearchFrom(q string, offset int64, backwards bool) {
	if q == "" {
		p.setHexMatch(-1)
		p.eng.SetScrollOffset(p.hexAnchor)
		return
	}
	p.eng.FindBytesAsync(q, offset, backwards, func(res engine.SearchResult) {
		if res.Found {
			p.setHexMatch(res.Offset)
			p.eng.SetScrollOffset(int(res.Offset / engine.HexBytesPerRow))
		} else {
			p.setMessage("not found")
		}
		p.postRedraw()
	})
}

// hexResumeOffset is where a repeated hex search starts.
func (p *Pager) hexResumeOffset() int64 {
	if off := p.lastHexMatch(); off >= 0 {
		return off
	}
	return int64(p.eng.ScrollOffset()) * engine.HexBytesPerRow
}

func (p *Pager) setHexMatch(off int64) {
	p.hexMu.Lock()
	p.hexMatch = off
	p.hexMu.Unlock()
}

func (p *Pager) lastHexMatch() int64 {
	p.hexMu.Lock()
	defer p.hexMu.Unlock()
	return p.hexMatch
}

func (p *Pager) draw() {
	p.screen.Clear()

	rows := p.bodyRows()
	top := p.eng.ScrollOffset()

	var lines []string
	if p.eng.Mode() == engine.ModeHex {
		lines = p.eng.HexLines(top, rows)
	} else {
		lines = p.eng.GetTextLines(top, rows)
		for i, line := range lines {
			line = textutil.SanitizeTerminalText(line)
			lines[i] = textutil.ExpandTabs(line, textutil.DefaultTabWidth)
		}
	}

	for y := 0; y < rows; y++ {
		text := ""
		if y < len(lines) {
			text = lines[y]
		}
		p.drawLine(y, text, tcell.StyleDefault)
	}

	if p.prompt != promptNone {
		p.drawLine(p.height-1, p.promptLine(), tcell.StyleDefault)
	} else {
		status := tcell.StyleDefault.Reverse(true)
		p.drawLine(p.height-1, p.statusLine(), status)
	}
	p.screen.Show()
}

func (p *Pager) promptLine() string {
	if p.prompt == promptGoto {
		return "go to line: " + string(p.promptInput)
	}
	return "/" + string(p.promptInput)
}

func (p *Pager) statusLine() string {
	return formatStatus(statusInfo{
		path:     p.eng.Path(),
		encoding: p.eng.Encoding().String(),
		mode:     p.eng.Mode().String(),
		top:      p.eng.ScrollOffset(),
		total:    p.totalRows(),
		indexing: p.eng.IsIndexing(),
		progress: p.eng.IndexingProgress(),
		advisory: p.eng.EncodingAdvisory(),
		message:  p.currentMessage(),
	})
}

func (p *Pager) totalRows() int {
	if p.eng.Mode() == engine.ModeHex {
		return p.eng.HexRowCount()
	}
	return p.eng.LineCount()
}

type statusInfo struct {
	path     string
	encoding string
	mode     string
	top      int
	total    int
	indexing bool
	progress float64
	advisory bool
	message  string
}

func formatStatus(info statusInfo) string {
	pos := fmt.Sprintf("%d/%d", info.top+1, info.total)
	if info.total == 0 {
		pos = "0/0"
	}
	s := fmt.Sprintf(" %s  %s  %s  %s", info.path, info.encoding, info.mode, pos)
	if info.indexing {
		s += fmt.Sprintf("  indexing %d%%", int(info.progress*100))
	}
	if info.advisory {
		s += "  (encoding?)"
	}
	if info.message != "" {
		s += "  " + info.message
	}
	return s
}

func (p *Pager) drawLine(y int, text string, style tcell.Style) {
	x := 0
	for _, r := range truncateToWidth(text, p.width) {
		w := runewidth.RuneWidth(r)
		if w < 1 {
			w = 1
		}
		p.screen.SetContent(x, y, r, nil, style)
		x += w
	}
	for ; x < p.width; x++ {
		p.screen.SetContent(x, y, ' ', nil, style)
	}
}

func truncateToWidth(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if textutil.DisplayWidth(text) <= width {
		return text
	}

	const ellipsis = "…"
	target := width - 1
	out := make([]rune, 0, target)
	current := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w < 1 {
			w = 1
		}
		if current+w > target {
			break
		}
		out = append(out, r)
		current += w
	}
	return string(out) + ellipsis
}
