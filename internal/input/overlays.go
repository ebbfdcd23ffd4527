package input

import "strings"

// Kind names an overlay.
type Kind string

const (
	KindNewThread         Kind = "new-thread"
	KindCommandMenu       Kind = "command-menu"
	KindTaskEditor        Kind = "task-editor"
	KindRepository        Kind = "repository"
	KindAPIKey            Kind = "api-key"
	KindConversationTitle Kind = "conversation-title"
	KindReleaseNotes      Kind = "release-notes"
)

// Result reports what one reduction step asked for. Submit means the
// overlay's primary action fired; Dismiss closes it without submitting;
// Action carries an overlay-specific payload.
type Result struct {
	Submit  bool
	Dismiss bool
	Action  string
}

// Rect is an overlay's screen bounds, used for pointer hit-tests.
type Rect struct {
	Row  int
	Col  int
	Rows int
	Cols int
}

// Contains reports whether the 1-based pointer cell falls inside.
func (r Rect) Contains(col, row int) bool {
	return col >= r.Col && col < r.Col+r.Cols &&
		row >= r.Row && row < r.Row+r.Rows
}

// dismissOutside is the shared pointer rule: a press outside the overlay
// dismisses it; releases never do anything on their own.
func dismissOutside(bounds Rect, p Pointer) (handled bool, res Result) {
	if !p.Press {
		return true, Result{}
	}
	if !bounds.Contains(p.Col, p.Row) {
		return true, Result{Dismiss: true}
	}
	return false, Result{}
}

// --- new-thread ---

// NewThreadState drives the new-thread overlay: a title field plus a
// round-robin agent choice.
type NewThreadState struct {
	Title  Field
	Agents []string
	Bounds Rect
}

// NewNewThread builds the overlay state over the selectable agents.
func NewNewThread(agents []string, bounds Rect) NewThreadState {
	return NewThreadState{
		Title:  Field{Choices: len(agents)},
		Agents: agents,
		Bounds: bounds,
	}
}

// Agent returns the currently chosen agent, or "" when none exist.
func (s NewThreadState) Agent() string {
	if len(s.Agents) == 0 {
		return ""
	}
	return s.Agents[s.Title.Choice]
}

func (s NewThreadState) Reduce(tok Token) (NewThreadState, Result) {
	switch tok.Kind {
	case TokenByte:
		var submit bool
		s.Title, submit = s.Title.Reduce(tok.Byte)
		return s, Result{Submit: submit}
	case TokenPaste:
		s.Title = s.Title.Append(tok.Paste)
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
		// Row 0 of the overlay is the title; the agent list follows.
		idx := tok.Pointer.Row - s.Bounds.Row - 1
		if idx >= 0 && idx < len(s.Agents) {
			s.Title.Choice = idx
			return s, Result{Action: "select-agent"}
		}
	}
	return s, Result{}
}

// --- command-menu ---

// CommandMenuState drives the command palette: a filter query over a fixed
// item list with a round-robin selection over the filtered view.
type CommandMenuState struct {
	Query    Field
	Items    []string
	Selected int
	Bounds   Rect
}

func NewCommandMenu(items []string, bounds Rect) CommandMenuState {
	return CommandMenuState{Items: items, Bounds: bounds}
}

// Filtered returns the items matching the query, case-insensitively.
func (s CommandMenuState) Filtered() []string {
	if s.Query.Text == "" {
		return s.Items
	}
	q := strings.ToLower(s.Query.Text)
	out := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		if strings.Contains(strings.ToLower(item), q) {
			out = append(out, item)
		}
	}
	return out
}

// Selection returns the highlighted item, or "" when nothing matches.
func (s CommandMenuState) Selection() string {
	filtered := s.Filtered()
	if len(filtered) == 0 {
		return ""
	}
	return filtered[s.Selected%len(filtered)]
}

func (s CommandMenuState) Reduce(tok Token) (CommandMenuState, Result) {
	switch tok.Kind {
	case TokenByte:
		if tok.Byte == 0x09 {
			if n := len(s.Filtered()); n > 0 {
				s.Selected = (s.Selected + 1) % n
			}
			return s, Result{}
		}
		var submit bool
		s.Query, submit = s.Query.Reduce(tok.Byte)
		if submit {
			if sel := s.Selection(); sel != "" {
				return s, Result{Submit: true, Action: sel}
			}
			return s, Result{}
		}
		// Typing narrows the filtered view; keep the selection in range.
		if n := len(s.Filtered()); n > 0 {
			s.Selected %= n
		} else {
			s.Selected = 0
		}
		return s, Result{}
	case TokenPaste:
		s.Query = s.Query.Append(tok.Paste)
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
		// Row 0 of the overlay is the query; items follow.
		idx := tok.Pointer.Row - s.Bounds.Row - 1
		filtered := s.Filtered()
		if idx >= 0 && idx < len(filtered) {
			s.Selected = idx
			return s, Result{Submit: true, Action: filtered[idx]}
		}
	}
	return s, Result{}
}

// --- task-editor ---

const (
	taskFieldTitle = iota
	taskFieldBody
)

// TaskEditorState drives the task editor: title and body fields with Tab
// cycling between them.
type TaskEditorState struct {
	Title  Field
	Body   Field
	Active int
	Bounds Rect
}

func NewTaskEditor(title, body string, bounds Rect) TaskEditorState {
	return TaskEditorState{
		Title:  Field{Text: title},
		Body:   Field{Text: body},
		Bounds: bounds,
	}
}

func (s TaskEditorState) Reduce(tok Token) (TaskEditorState, Result) {
	switch tok.Kind {
	case TokenByte:
		if tok.Byte == 0x09 {
			s.Active = (s.Active + 1) % 2
			return s, Result{}
		}
		var submit bool
		if s.Active == taskFieldTitle {
			s.Title, submit = s.Title.Reduce(tok.Byte)
		} else {
			s.Body, submit = s.Body.Reduce(tok.Byte)
		}
		return s, Result{Submit: submit}
	case TokenPaste:
		if s.Active == taskFieldTitle {
			s.Title = s.Title.Append(tok.Paste)
		} else {
			s.Body = s.Body.Append(tok.Paste)
		}
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
		if tok.Pointer.Row == s.Bounds.Row {
			s.Active = taskFieldTitle
		} else {
			s.Active = taskFieldBody
		}
		return s, Result{Action: "focus-field"}
	}
	return s, Result{}
}

// --- repository ---

// RepositoryState drives the add-repository overlay: a single URL field.
type RepositoryState struct {
	URL    Field
	Bounds Rect
}

func NewRepository(bounds Rect) RepositoryState {
	return RepositoryState{Bounds: bounds}
}

func (s RepositoryState) Reduce(tok Token) (RepositoryState, Result) {
	switch tok.Kind {
	case TokenByte:
		var submit bool
		s.URL, submit = s.URL.Reduce(tok.Byte)
		return s, Result{Submit: submit}
	case TokenPaste:
		s.URL = s.URL.Append(tok.Paste)
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
	}
	return s, Result{}
}

// --- api-key ---

// APIKeyState drives the api-key overlay. The raw key is kept in Key; the
// rendered form comes from Masked.
type APIKeyState struct {
	Key    Field
	Bounds Rect
}

func NewAPIKey(bounds Rect) APIKeyState {
	return APIKeyState{Bounds: bounds}
}

// Masked returns one asterisk per entered rune.
func (s APIKeyState) Masked() string {
	return strings.Repeat("*", len([]rune(s.Key.Text)))
}

func (s APIKeyState) Reduce(tok Token) (APIKeyState, Result) {
	switch tok.Kind {
	case TokenByte:
		var submit bool
		s.Key, submit = s.Key.Reduce(tok.Byte)
		return s, Result{Submit: submit}
	case TokenPaste:
		s.Key = s.Key.Append(tok.Paste)
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
	}
	return s, Result{}
}

// --- conversation-title ---

// ConversationTitleState drives the rename overlay, prefilled with the
// current title.
type ConversationTitleState struct {
	Title  Field
	Bounds Rect
}

func NewConversationTitle(current string, bounds Rect) ConversationTitleState {
	return ConversationTitleState{Title: Field{Text: current}, Bounds: bounds}
}

func (s ConversationTitleState) Reduce(tok Token) (ConversationTitleState, Result) {
	switch tok.Kind {
	case TokenByte:
		var submit bool
		s.Title, submit = s.Title.Reduce(tok.Byte)
		return s, Result{Submit: submit}
	case TokenPaste:
		s.Title = s.Title.Append(tok.Paste)
		return s, Result{}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
	}
	return s, Result{}
}

// --- release-notes ---

// ReleaseNotesState drives the read-only release-notes pager. Tab and space
// advance the page round robin; Enter acknowledges and closes.
type ReleaseNotesState struct {
	Page   int
	Pages  int
	Bounds Rect
}

func NewReleaseNotes(pages int, bounds Rect) ReleaseNotesState {
	if pages < 1 {
		pages = 1
	}
	return ReleaseNotesState{Pages: pages, Bounds: bounds}
}

func (s ReleaseNotesState) Reduce(tok Token) (ReleaseNotesState, Result) {
	switch tok.Kind {
	case TokenByte:
		switch tok.Byte {
		case 0x0d, 0x0a:
			return s, Result{Submit: true, Dismiss: true}
		case 0x09, 0x20:
			s.Page = (s.Page + 1) % s.Pages
			return s, Result{}
		}
	case TokenPointer:
		if handled, res := dismissOutside(s.Bounds, tok.Pointer); handled {
			return s, res
		}
		s.Page = (s.Page + 1) % s.Pages
		return s, Result{Action: "next-page"}
	}
	return s, Result{}
}
