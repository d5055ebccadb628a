package chatservice

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// dialogIndex is the on-disk shape of dialogs/index.json: just the pointer
// to whichever dialog GET/PATCH /api/dialogs/current resolves to. The full
// dialog list is served from dialogstore's SQL table rather than duplicated
// here.
type dialogIndex struct {
	CurrentDialogID string `json:"current_dialog_id"`
}

// currentDialogPointer guards reads and writes of one project's
// dialogs/index.json against concurrent requests.
type currentDialogPointer struct {
	path string
	mu   sync.Mutex
}

func newCurrentDialogPointer(path string) *currentDialogPointer {
	return &currentDialogPointer{path: path}
}

func (p *currentDialogPointer) get() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", agentserr.New(agentserr.KindInternal, "read_dialog_index", err)
	}
	var idx dialogIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", agentserr.New(agentserr.KindInternal, "parse_dialog_index", err)
	}
	return idx.CurrentDialogID, nil
}

func (p *currentDialogPointer) set(dialogID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(dialogIndex{CurrentDialogID: dialogID})
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "marshal_dialog_index", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return agentserr.New(agentserr.KindInternal, "write_dialog_index", err)
	}
	return nil
}

// clearIfCurrent resets the pointer to empty if it currently names dialogID,
// used when that dialog is deleted so a later request doesn't resolve to a
// dialog that no longer exists.
func (p *currentDialogPointer) clearIfCurrent(dialogID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "read_dialog_index", err)
	}
	var idx dialogIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return agentserr.New(agentserr.KindInternal, "parse_dialog_index", err)
	}
	if idx.CurrentDialogID != dialogID {
		return nil
	}
	cleared, err := json.Marshal(dialogIndex{})
	if err != nil {
		return agentserr.New(agentserr.KindInternal, "marshal_dialog_index", err)
	}
	if err := os.WriteFile(p.path, cleared, 0o644); err != nil {
		return agentserr.New(agentserr.KindInternal, "write_dialog_index", err)
	}
	return nil
}
