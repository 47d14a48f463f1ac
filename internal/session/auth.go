package session

import (
	"context"
	"sync"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/types"
)

// BackendAuthProvider is an AuthProvider backed by the chat backend's
// session endpoint and a session token obtained out of band.
type BackendAuthProvider struct {
	backend backend.ChatBackend

	mu        sync.Mutex
	token     string
	observers map[int]func(*types.User, string)
	obSeq     int
}

func NewBackendAuthProvider(be backend.ChatBackend, token string) *BackendAuthProvider {
	return &BackendAuthProvider{
		backend:   be,
		token:     token,
		observers: make(map[int]func(*types.User, string)),
	}
}

func (p *BackendAuthProvider) CurrentUser(ctx context.Context) (types.User, string, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	user, err := p.backend.CurrentUser(ctx)
	if err != nil {
		return types.User{}, "", err
	}
	return user, token, nil
}

// OnAuthChange registers an identity observer; the disposer is idempotent.
func (p *BackendAuthProvider) OnAuthChange(fn func(*types.User, string)) func() {
	p.mu.Lock()
	p.obSeq++
	id := p.obSeq
	p.observers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// SignIn announces a new identity and token to all observers.
func (p *BackendAuthProvider) SignIn(user types.User, token string) {
	p.mu.Lock()
	p.token = token
	obs := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range obs {
		fn(&user, token)
	}
}

// SignOut announces that the identity became unknown.
func (p *BackendAuthProvider) SignOut() {
	p.mu.Lock()
	p.token = ""
	obs := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range obs {
		fn(nil, "")
	}
}

func (p *BackendAuthProvider) snapshotLocked() []func(*types.User, string) {
	obs := make([]func(*types.User, string), 0, len(p.observers))
	for _, fn := range p.observers {
		obs = append(obs, fn)
	}
	return obs
}
