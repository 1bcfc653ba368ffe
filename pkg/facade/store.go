package facade

import (
	"context"
	"fmt"
	"sync"
)

// MemoryConnections is an in-memory connection store. Production
// deployments back ConnectionLookup with their own persistence; this
// store serves single-node setups and tests.
type MemoryConnections struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewMemoryConnections() *MemoryConnections {
	return &MemoryConnections{conns: make(map[string]*Connection)}
}

// Put stores or replaces a connection record.
func (s *MemoryConnections) Put(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *conn
	s.conns[conn.ID] = &copied
}

// Lookup satisfies ConnectionLookup. Ownership is always enforced: a
// lookup without an organization id fails rather than widening scope.
func (s *MemoryConnections) Lookup(ctx context.Context, organizationID, connectionID string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %s not found", connectionID)
	}
	if organizationID == "" || conn.OrganizationID != organizationID {
		return nil, fmt.Errorf("connection %s not found", connectionID)
	}
	copied := *conn
	return &copied, nil
}

// CredentialsLookup adapts the store for the metadata routes, which
// resolve raw credential maps by connection id.
func (s *MemoryConnections) CredentialsLookup(ctx context.Context, organizationID, connectionID string) (map[string]any, error) {
	conn, err := s.Lookup(ctx, organizationID, connectionID)
	if err != nil {
		return nil, err
	}
	return conn.Credentials, nil
}
