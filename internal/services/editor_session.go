package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "labstock/internal/errors"
	"labstock/internal/logger"
	"labstock/internal/tree"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EditorState is the lifecycle of an editing session.
type EditorState int

const (
	EditorIdle EditorState = iota
	EditorEditing
	EditorSaving
)

func (s EditorState) String() string {
	switch s {
	case EditorIdle:
		return "idle"
	case EditorEditing:
		return "editing"
	case EditorSaving:
		return "saving"
	default:
		return fmt.Sprintf("EditorState(%d)", int(s))
	}
}

// MarshalText lets the state appear by name in JSON.
func (s EditorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TreeRenderer is called with a copy of the working tree after every change.
type TreeRenderer interface {
	RenderTree(t *tree.Tree)
}

// RenderFunc adapts a function to TreeRenderer.
type RenderFunc func(t *tree.Tree)

func (f RenderFunc) RenderTree(t *tree.Tree) { f(t) }

// IntentKind names an edit requested by the presentation layer.
type IntentKind string

const (
	IntentRename   IntentKind = "rename"
	IntentAddChild IntentKind = "addChild"
	IntentRemove   IntentKind = "remove"
	IntentMove     IntentKind = "move"
)

// Intent is one edit. An empty ParentID on addChild adds a category; on move
// it repositions a category. Index nil means append.
type Intent struct {
	Kind     IntentKind `json:"kind" validate:"required,oneof=rename addChild remove move"`
	ID       string     `json:"id,omitempty"`
	ParentID string     `json:"parentId,omitempty"`
	Name     string     `json:"name,omitempty"`
	Index    *int       `json:"index,omitempty"`
}

// EditorSnapshot is a point-in-time view of a session.
type EditorSnapshot struct {
	State     EditorState `json:"state"`
	Canonical *tree.Tree  `json:"canonical"`
	Working   *tree.Tree  `json:"working,omitempty"`
	LastError string      `json:"lastError,omitempty"`
	// Held is set when the session is open for someone else.
	Held bool `json:"held,omitempty"`
	// Fallback is set while the canonical tree is the built-in default.
	Fallback bool `json:"fallback,omitempty"`
}

// editorLeaseTTL is how long an open session may sit untouched before
// another caller can take it over.
const editorLeaseTTL = 30 * time.Minute

// EditorSession holds a private working copy of a catalog tree. Edits never
// touch the canonical tree until a commit succeeds.
//
// A session opened with OpenSession belongs to the returned token; the *As
// methods refuse callers holding another token. The plain methods act as the
// in-process owner "".
type EditorSession struct {
	mu           sync.Mutex
	synchronizer TreeSynchronizer
	renderer     TreeRenderer
	now          func() time.Time

	state     EditorState
	canonical *tree.Tree
	working   *tree.Tree
	lastErr   error
	// fallbackErr is the load error while canonical is the built-in default.
	fallbackErr error

	owner   string
	touched time.Time

	// generation increases on every commit and discard. savingGen is the
	// generation of the save this session is waiting on, committedGen that of
	// the newest save that succeeded.
	generation   uint64
	savingGen    uint64
	committedGen uint64

	log *zap.SugaredLogger
}

// NewEditorSession starts Idle with canonical as the current tree. renderer
// may be nil.
func NewEditorSession(synchronizer TreeSynchronizer, canonical *tree.Tree, renderer TreeRenderer) *EditorSession {
	if canonical == nil {
		canonical = tree.New()
	}
	return &EditorSession{
		synchronizer: synchronizer,
		renderer:     renderer,
		now:          time.Now,
		canonical:    canonical,
		log:          logger.Named("editor").With("catalog", synchronizer.Catalog().Name),
	}
}

// markFallback records that canonical is the built-in default because the
// stored tree could not be loaded.
func (e *EditorSession) markFallback(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbackErr = err
}

func (e *EditorSession) State() EditorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *EditorSession) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Canonical returns a copy of the last loaded or successfully saved tree.
func (e *EditorSession) Canonical() *tree.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canonical.Clone()
}

// CanonicalTree is Canonical plus the reason it is the built-in default, if
// it is.
func (e *EditorSession) CanonicalTree() (*tree.Tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canonical.Clone(), e.fallbackErr
}

// Working returns a copy of the working tree, or nil when Idle.
func (e *EditorSession) Working() *tree.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.working.Clone()
}

func (e *EditorSession) Snapshot() EditorSnapshot {
	return e.SnapshotFor("")
}

// SnapshotFor leaves out the working copy unless owner holds the session.
func (e *EditorSession) SnapshotFor(owner string) EditorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := EditorSnapshot{
		State:     e.state,
		Canonical: e.canonical.Clone(),
		Fallback:  e.fallbackErr != nil,
	}
	if e.state != EditorIdle && owner != e.owner {
		snap.Held = true
		return snap
	}
	snap.Working = e.working.Clone()
	if e.lastErr != nil {
		snap.LastError = e.lastErr.Error()
	}
	return snap
}

// Open copies the canonical tree into a fresh working copy.
func (e *EditorSession) Open() error {
	return e.open("")
}

// OpenSession opens the editor for a new owner and returns its token.
func (e *EditorSession) OpenSession() (string, error) {
	token := uuid.NewString()
	if err := e.open(token); err != nil {
		return "", err
	}
	return token, nil
}

func (e *EditorSession) open(owner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EditorIdle {
		if e.state != EditorEditing || owner == e.owner || e.now().Sub(e.touched) < editorLeaseTTL {
			return apperrors.WithMessage(apperrors.ErrInvalidState, "Editor is already open ("+e.state.String()+")")
		}
		e.log.Warnw("Taking over an abandoned editing session", "idle", e.now().Sub(e.touched))
		e.generation++
	}
	e.working = e.canonical.Clone()
	e.lastErr = nil
	e.owner = owner
	e.touched = e.now()
	e.state = EditorEditing
	e.render()
	return nil
}

// holds reports why owner may not act on an open session. Callers hold mu.
func (e *EditorSession) holds(owner string) error {
	if owner != e.owner {
		return apperrors.WithMessage(apperrors.ErrInvalidState, "Editor is held by another session")
	}
	return nil
}

// edit applies fn to the working copy and re-renders on success.
func (e *EditorSession) edit(owner string, fn func(w *tree.Tree) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EditorIdle {
		return apperrors.WithMessage(apperrors.ErrInvalidState, "Editor is "+e.state.String())
	}
	if err := e.holds(owner); err != nil {
		return err
	}
	if e.state != EditorEditing {
		return apperrors.WithMessage(apperrors.ErrInvalidState, "Editor is "+e.state.String())
	}
	if err := fn(e.working); err != nil {
		return err
	}
	e.touched = e.now()
	e.render()
	return nil
}

func (e *EditorSession) render() {
	if e.renderer != nil {
		e.renderer.RenderTree(e.working.Clone())
	}
}

// Rename renames the category or subcategory with the id.
func (e *EditorSession) Rename(id, name string) error {
	return e.rename("", id, name)
}

func (e *EditorSession) rename(owner, id, name string) error {
	return e.edit(owner, func(w *tree.Tree) error {
		if w.FindCategory(id) != nil {
			return w.RenameCategory(id, name)
		}
		return w.RenameSubcategory(id, name)
	})
}

// AddCategory inserts a new category at index (tree.End appends) and returns
// its id.
func (e *EditorSession) AddCategory(name string, index int) (string, error) {
	return e.addCategory("", name, index)
}

func (e *EditorSession) addCategory(owner, name string, index int) (string, error) {
	c := tree.NewCategory(name)
	err := e.edit(owner, func(w *tree.Tree) error {
		return w.InsertCategory(c, index)
	})
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// AddSubcategory inserts a new subcategory under parentID and returns its id.
func (e *EditorSession) AddSubcategory(parentID, name string, index int) (string, error) {
	return e.addSubcategory("", parentID, name, index)
}

func (e *EditorSession) addSubcategory(owner, parentID, name string, index int) (string, error) {
	s := tree.NewSubcategory(name)
	err := e.edit(owner, func(w *tree.Tree) error {
		return w.InsertSubcategory(parentID, s, index)
	})
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Remove deletes a category with all its subcategories, or one subcategory.
func (e *EditorSession) Remove(id string) error {
	return e.remove("", id)
}

func (e *EditorSession) remove(owner, id string) error {
	return e.edit(owner, func(w *tree.Tree) error {
		if w.FindCategory(id) != nil {
			return w.RemoveCategory(id)
		}
		return w.RemoveSubcategory(id)
	})
}

// Move repositions a subcategory under parentID, or a category when parentID
// is empty.
func (e *EditorSession) Move(id, parentID string, index int) error {
	return e.move("", id, parentID, index)
}

func (e *EditorSession) move(owner, id, parentID string, index int) error {
	return e.edit(owner, func(w *tree.Tree) error {
		if parentID == "" {
			return w.MoveCategory(id, index)
		}
		return w.MoveSubcategory(id, parentID, index)
	})
}

// Reorder reconciles the working copy to the order observed when a drag ends.
func (e *EditorSession) Reorder(order []tree.OrderedCategory) error {
	return e.ReorderAs("", order)
}

func (e *EditorSession) ReorderAs(owner string, order []tree.OrderedCategory) error {
	return e.edit(owner, func(w *tree.Tree) error {
		return w.Reorder(order)
	})
}

// Apply dispatches an intent. It returns the id of a node created by addChild.
func (e *EditorSession) Apply(in Intent) (string, error) {
	return e.ApplyAs("", in)
}

func (e *EditorSession) ApplyAs(owner string, in Intent) (string, error) {
	index := tree.End
	if in.Index != nil {
		index = *in.Index
	}
	switch in.Kind {
	case IntentRename:
		return in.ID, e.rename(owner, in.ID, in.Name)
	case IntentAddChild:
		if in.ParentID == "" {
			return e.addCategory(owner, in.Name, index)
		}
		return e.addSubcategory(owner, in.ParentID, in.Name, index)
	case IntentRemove:
		return in.ID, e.remove(owner, in.ID)
	case IntentMove:
		return in.ID, e.move(owner, in.ID, in.ParentID, index)
	default:
		return "", apperrors.WithMessage(apperrors.ErrValidation, fmt.Sprintf("Unknown intent %q", in.Kind))
	}
}

// Commit saves the working copy. On success it becomes canonical and the
// session returns to Idle; on failure the session stays Editing with the
// working copy intact. A commit while a save is in flight is refused.
func (e *EditorSession) Commit(ctx context.Context) error {
	return e.CommitAs(ctx, "")
}

func (e *EditorSession) CommitAs(ctx context.Context, owner string) error {
	e.mu.Lock()
	if e.state == EditorIdle {
		e.mu.Unlock()
		return apperrors.WithMessage(apperrors.ErrInvalidState, "Nothing to commit, editor is not open")
	}
	if err := e.holds(owner); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state == EditorSaving {
		e.mu.Unlock()
		return apperrors.ErrConcurrentOverwriteRisk
	}
	e.generation++
	gen := e.generation
	e.savingGen = gen
	e.state = EditorSaving
	snapshot := e.working.Clone()
	e.mu.Unlock()

	err := e.synchronizer.SaveTree(ctx, snapshot)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil && gen > e.committedGen {
		e.canonical = snapshot
		e.committedGen = gen
		e.fallbackErr = nil
	}

	if e.state != EditorSaving || e.savingGen != gen {
		// Discarded while the save was in flight.
		e.log.Infow("Save finished after the session was discarded", "generation", gen, "error", err)
		return err
	}

	e.savingGen = 0
	e.touched = e.now()
	if err != nil {
		e.state = EditorEditing
		e.lastErr = err
		e.log.Warnw("Save failed, working copy kept", "error", err)
		return err
	}
	e.state = EditorIdle
	e.working = nil
	e.lastErr = nil
	e.owner = ""
	return nil
}

// Discard drops the working copy whoever holds it. A save in flight still
// completes in the background but no longer drives the session.
func (e *EditorSession) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discard()
}

// DiscardAs drops the working copy if owner holds the session. Discarding an
// idle session is a no-op.
func (e *EditorSession) DiscardAs(owner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EditorIdle {
		return nil
	}
	if err := e.holds(owner); err != nil {
		return err
	}
	e.discard()
	return nil
}

func (e *EditorSession) discard() {
	if e.state == EditorIdle {
		return
	}
	e.generation++
	e.savingGen = 0
	e.working = nil
	e.lastErr = nil
	e.owner = ""
	e.state = EditorIdle
}

// ReloadCanonical replaces the canonical tree with the stored one. It only
// runs while Idle, and keeps the current tree if the store cannot be read.
func (e *EditorSession) ReloadCanonical(ctx context.Context) (bool, error) {
	e.mu.Lock()
	if e.state != EditorIdle {
		e.mu.Unlock()
		return false, nil
	}
	startGen := e.committedGen
	e.mu.Unlock()

	t, err := e.synchronizer.LoadTree(ctx)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EditorIdle || e.committedGen != startGen {
		return false, nil
	}
	e.canonical = t
	e.fallbackErr = nil
	return true, nil
}
