package progress

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const defaultFirebasePath = "intake/progress"

// FirebaseConfig locates a Realtime Database node that holds the sessions.
type FirebaseConfig struct {
	CredentialsFile string
	DatabaseURL     string
	Path            string
}

// documentRef is the part of *db.Ref the backend uses.
type documentRef interface {
	Get(ctx context.Context, v interface{}) error
	Set(ctx context.Context, v interface{}) error
}

// Firebase writes the whole snapshot to a single Realtime Database node.
type Firebase struct {
	ref documentRef
}

// NewFirebase connects to the Realtime Database described by cfg.
func NewFirebase(ctx context.Context, cfg FirebaseConfig) (*Firebase, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("firebase database url is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting database client: %w", err)
	}

	path := strings.Trim(strings.TrimSpace(cfg.Path), "/")
	if path == "" {
		path = defaultFirebasePath
	}

	return &Firebase{ref: client.NewRef(path)}, nil
}

func (f *Firebase) Name() string { return "firebase" }

func (f *Firebase) Load(ctx context.Context) (Snapshot, error) {
	var doc map[string]*Session
	if err := f.ref.Get(ctx, &doc); err != nil {
		return nil, fmt.Errorf("reading progress node: %w", err)
	}

	if doc == nil {
		return nil, ErrStateNotFound
	}

	return fromDocument(doc), nil
}

func (f *Firebase) Save(ctx context.Context, snapshot Snapshot) error {
	if err := f.ref.Set(ctx, toDocument(snapshot)); err != nil {
		return fmt.Errorf("writing progress node: %w", err)
	}
	return nil
}

func (f *Firebase) Close() error { return nil }
