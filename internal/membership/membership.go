// Package membership answers whether a user is blacklisted or was declined before.
package membership

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/hr-intake/internal/chat"
)

var idPattern = regexp.MustCompile(`\b\d{17,20}\b`)

// ExtractIDs returns every user ID token found in text.
func ExtractIDs(text string) []string {
	return idPattern.FindAllString(text, -1)
}

// BlacklistSource yields the raw messages the blacklist is scraped from.
type BlacklistSource interface {
	BlacklistMessages(ctx context.Context) ([]string, error)
}

// Registry holds the blacklist in memory and the declined registry on disk.
type Registry struct {
	mu        sync.RWMutex
	blacklist map[chat.UserID]struct{}

	fileMu       sync.Mutex
	declinedPath string

	logger *zap.Logger
}

func NewRegistry(declinedPath string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		blacklist:    map[chat.UserID]struct{}{},
		declinedPath: declinedPath,
		logger:       logger,
	}
}

// ReplaceBlacklist swaps the blacklist for ids.
func (r *Registry) ReplaceBlacklist(ids []string) {
	set := make(map[chat.UserID]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[chat.UserID(id)] = struct{}{}
	}

	r.mu.Lock()
	r.blacklist = set
	r.mu.Unlock()
}

// RefreshBlacklist rebuilds the blacklist from the ID tokens in src. On
// failure the current blacklist is kept.
func (r *Registry) RefreshBlacklist(ctx context.Context, src BlacklistSource) (int, error) {
	messages, err := src.BlacklistMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading blacklist source: %w", err)
	}

	var ids []string
	for _, m := range messages {
		ids = append(ids, ExtractIDs(m)...)
	}
	r.ReplaceBlacklist(ids)

	r.mu.RLock()
	n := len(r.blacklist)
	r.mu.RUnlock()

	r.logger.Info("blacklist loaded", zap.Int("count", n))
	return n, nil
}

func (r *Registry) IsBlacklisted(user chat.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.blacklist[user]
	return ok
}

// IsPreviouslyDeclined reads the declined registry. An unreadable registry
// counts as empty.
func (r *Registry) IsPreviouslyDeclined(user chat.UserID) bool {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	ids, err := r.readDeclined()
	if err != nil {
		r.logger.Warn("reading declined registry", zap.String("path", r.declinedPath), zap.Error(err))
		return false
	}

	_, ok := ids[user]
	return ok
}

// RecordDeclined appends user to the declined registry.
func (r *Registry) RecordDeclined(user chat.UserID) error {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	if dir := filepath.Dir(r.declinedPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(r.declinedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening declined registry: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", user); err != nil {
		return fmt.Errorf("appending to declined registry: %w", err)
	}

	return nil
}

func (r *Registry) readDeclined() (map[chat.UserID]struct{}, error) {
	ids := map[chat.UserID]struct{}{}

	f, err := os.Open(r.declinedPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ids, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids[chat.UserID(line)] = struct{}{}
	}

	return ids, scanner.Err()
}
