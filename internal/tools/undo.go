package tools

import (
	"fmt"
	"os"
	"sync"
)

// FileOp is the inverse of one file mutation. Existed=false means the file
// was created by the tool and undo removes it.
type FileOp struct {
	Path    string
	Existed bool
	Prior   []byte
}

// UndoStack records file mutations in order so a session can roll the most
// recent ones back. LIFO.
type UndoStack struct {
	mu  sync.Mutex
	ops []FileOp
}

func NewUndoStack() *UndoStack {
	return &UndoStack{}
}

func (u *UndoStack) Push(op FileOp) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ops = append(u.ops, op)
}

func (u *UndoStack) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ops)
}

// Undo reverts up to n recorded operations, newest first, and returns how
// many were reverted. It stops at the first filesystem error.
func (u *UndoStack) Undo(n int) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n <= 0 {
		return 0, nil
	}
	reverted := 0
	for reverted < n && len(u.ops) > 0 {
		op := u.ops[len(u.ops)-1]
		var err error
		if op.Existed {
			err = os.WriteFile(op.Path, op.Prior, 0o644)
		} else {
			err = os.Remove(op.Path)
			if err != nil && os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			return reverted, fmt.Errorf("undo %s: %w", op.Path, err)
		}
		u.ops = u.ops[:len(u.ops)-1]
		reverted++
	}
	return reverted, nil
}
