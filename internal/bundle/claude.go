package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
	"github.com/payneio/amplifier-bundle-foreman/pkg/storage"
)

const manifestName = "bundle.yaml"

const sessionsPrefix = "sessions"

// Manifest is the bundle.yaml descriptor at the root of a bundle directory.
type Manifest struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description,omitempty"`
	SystemPrompt   string   `yaml:"system_prompt"`
	PermissionMode string   `yaml:"permission_mode,omitempty"`
	Providers      []string `yaml:"providers,omitempty"`
}

// SessionRecord is the durable artifact persisted per worker session so the
// session remains discoverable after the worker exits.
type SessionRecord struct {
	ID         string    `yaml:"id"`
	ParentID   string    `yaml:"parent_id,omitempty"`
	Bundle     string    `yaml:"bundle"`
	SDKSession string    `yaml:"sdk_session,omitempty"`
	Providers  []string  `yaml:"providers,omitempty"`
	IsError    bool      `yaml:"is_error"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
}

// ClaudeLoader loads bundle directories, cloning git+ and http references
// into a local cache, and runs sessions through the Claude agent SDK.
type ClaudeLoader struct {
	cacheDir string
	store    storage.Storage
}

func NewClaudeLoader(cacheDir string, store storage.Storage) *ClaudeLoader {
	return &ClaudeLoader{cacheDir: cacheDir, store: store}
}

func (l *ClaudeLoader) Load(ctx context.Context, uri string) (Bundle, error) {
	dir, err := l.localize(ctx, uri)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("bundle %s has no %s", uri, manifestName), err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("bundle %s has an invalid %s", uri, manifestName), err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	return &claudeBundle{dir: dir, manifest: m, store: l.store}, nil
}

// localize produces a local directory for the reference, cloning remote
// references into the cache on first use.
func (l *ClaudeLoader) localize(ctx context.Context, uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "git+"):
		return l.clone(ctx, strings.TrimPrefix(uri, "git+"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.clone(ctx, uri)
	case strings.HasPrefix(uri, "file:"):
		return strings.TrimPrefix(uri, "file:"), nil
	default:
		return uri, nil
	}
}

func (l *ClaudeLoader) clone(ctx context.Context, url string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	dest := filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8]))

	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return dest, nil
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", cerr.NewError(cerr.Internal, "failed to create bundle cache directory", err)
	}

	slog.InfoContext(ctx, "cloning bundle", slog.String("url", url), slog.String("dest", dest))
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dest)
		return "", cerr.NewError(cerr.Unavailable, fmt.Sprintf("failed to clone bundle %s: %s", url, strings.TrimSpace(string(out))), err)
	}
	return dest, nil
}

type claudeBundle struct {
	dir      string
	manifest *Manifest
	store    storage.Storage
}

func (b *claudeBundle) Name() string {
	return b.manifest.Name
}

func (b *claudeBundle) Prepare(ctx context.Context) (Prepared, error) {
	info, err := os.Stat(b.dir)
	if err != nil || !info.IsDir() {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("bundle directory %s is not accessible", b.dir), err)
	}
	return &preparedBundle{bundle: b}, nil
}

type preparedBundle struct {
	bundle *claudeBundle
}

func (p *preparedBundle) CreateSession(ctx context.Context, opts SessionOptions) (Session, error) {
	providers := p.bundle.manifest.Providers
	if len(providers) == 0 {
		providers = opts.Providers
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = p.bundle.dir
	}
	return &claudeSession{
		id:        ulid.Make().String(),
		bundle:    p.bundle,
		parentID:  opts.ParentID,
		workDir:   workDir,
		providers: providers,
	}, nil
}

type claudeSession struct {
	id        string
	bundle    *claudeBundle
	parentID  string
	workDir   string
	providers []string

	cleanupOnce sync.Once
}

func (s *claudeSession) Execute(ctx context.Context, instruction string) (string, error) {
	permMode := claudeagent.PermissionModeDefault
	if pm := s.bundle.manifest.PermissionMode; pm != "" {
		permMode = claudeagent.PermissionMode(pm)
	}

	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt:   s.bundle.manifest.SystemPrompt,
		Cwd:            s.workDir,
		PermissionMode: permMode,
	}

	startedAt := time.Now().UTC()
	result, err := claudeagent.RunQuerySync(ctx, instruction, opts)
	finishedAt := time.Now().UTC()

	record := &SessionRecord{
		ID:         s.id,
		ParentID:   s.parentID,
		Bundle:     s.bundle.manifest.Name,
		Providers:  s.providers,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	if err != nil {
		record.IsError = true
		s.persist(ctx, record)
		return "", cerr.NewError(cerr.Unavailable, fmt.Sprintf("session %s failed", s.id), err)
	}
	if result.Result != nil {
		record.SDKSession = result.Result.SessionID
		record.IsError = result.Result.IsError
	}
	s.persist(ctx, record)

	if result.Result == nil {
		return "", cerr.NewError(cerr.Internal, fmt.Sprintf("session %s returned no result", s.id), nil)
	}
	if result.Result.IsError {
		return "", cerr.NewError(cerr.Internal, fmt.Sprintf("session %s returned an error: %s", s.id, result.Result.Result), nil)
	}
	return result.Result.Result, nil
}

// persist writes the session artifact. Failures are logged, not returned;
// the session outcome itself is the caller's concern.
func (s *claudeSession) persist(ctx context.Context, record *SessionRecord) {
	if s.bundle.store == nil {
		return
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		slog.WarnContext(ctx, "failed to encode session record", slog.String("session_id", s.id), slog.String("error", err.Error()))
		return
	}
	path := fmt.Sprintf("%s/%s.yaml", sessionsPrefix, s.id)
	if err := s.bundle.store.Write(ctx, path, data); err != nil {
		slog.WarnContext(ctx, "failed to persist session record", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
}

func (s *claudeSession) Cleanup() {
	s.cleanupOnce.Do(func() {
		slog.Debug("session cleaned up", slog.String("session_id", s.id))
	})
}
