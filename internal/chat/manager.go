package chat

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/session"
)

// Sentinel errors for manager operations, checked with errors.Is().
var (
	// ErrWrongProtocol indicates a session key resolved to a session of
	// the other protocol variant.
	ErrWrongProtocol = errors.New("session bound to a different protocol variant")

	errNoClient = errors.New("model client factory returned no client")
)

// Both variants must satisfy the store's Chat capability.
var (
	_ session.Chat = (*StreamingChat)(nil)
	_ session.Chat = (*JSONChat)(nil)
)

// Options carry the caller-supplied session attributes for create-or-resume.
type Options struct {
	// Category prefixes the generated session key.
	Category string

	// UserID is the opaque, trusted user identifier owning the session.
	UserID string

	// SystemMessage seeds a newly created session's transcript.
	// "" = DefaultSystemMessage. Ignored when resuming.
	SystemMessage string
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Factory maps a model configuration to a live model client. Required.
	Factory modelclient.Factory

	// Store holds the live sessions. Required.
	Store *session.Store

	// Knowledge enables document-grounded turns on raw streaming sessions.
	// nil = grounding disabled.
	Knowledge retrieval.KnowledgeStore

	// Evals is the optional retrieval evaluation sink.
	Evals retrieval.EvalSink

	// Analytics receives turn events. nil = disabled.
	Analytics Recorder

	// Logger for diagnostics. nil = slog.Default().
	Logger log.Logger
}

func (cfg ManagerConfig) validate() error {
	if cfg.Factory == nil {
		return errors.New("model client factory is required")
	}
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	return nil
}

// Manager is the facade binding the model-client factory, the session store
// and the knowledge collaborator. It performs no retrieval or streaming
// itself - purely composition.
type Manager struct {
	factory   modelclient.Factory
	store     *session.Store
	knowledge retrieval.KnowledgeStore
	evals     retrieval.EvalSink
	analytics Recorder
	logger    log.Logger
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		factory:   cfg.Factory,
		store:     cfg.Store,
		knowledge: cfg.Knowledge,
		evals:     cfg.Evals,
		analytics: cfg.Analytics,
		logger:    cfg.Logger,
	}, nil
}

// StreamingChat creates or resumes a raw streaming session. With an empty
// sessionKey a new session is created for the given model configuration;
// otherwise the existing session is returned and the model configuration is
// ignored (the session keeps the client it was created with).
func (m *Manager) StreamingChat(modelCfg modelclient.ModelConfig, sessionKey string, opts Options) (string, *StreamingChat, error) {
	factory, err := m.streamingFactory(modelCfg, opts)
	if err != nil {
		return "", nil, err
	}

	key, stored, err := m.store.GetOrCreate(factory, sessionKey, opts.Category, opts.UserID)
	if err != nil {
		return "", nil, err
	}

	sc, ok := stored.(*StreamingChat)
	if !ok {
		return "", nil, fmt.Errorf("session %q: %w", key, ErrWrongProtocol)
	}
	return key, sc, nil
}

// streamingFactory prepares the zero-argument session factory handed to the
// store. Client construction happens up front so a factory failure surfaces
// before any store entry is created.
func (m *Manager) streamingFactory(modelCfg modelclient.ModelConfig, opts Options) (func() session.Chat, error) {
	client, err := m.factory.NewClient(modelCfg)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	if client == nil {
		return nil, errNoClient
	}

	var retriever Retriever
	if m.knowledge != nil {
		orch, err := retrieval.NewOrchestrator(retrieval.OrchestratorConfig{
			Synthesizer: retrieval.NewSynthesizer(client, m.logger),
			Store:       m.knowledge,
			Evals:       m.evals,
			Logger:      m.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating retrieval orchestrator: %w", err)
		}
		retriever = orch
	}

	return func() session.Chat {
		return NewStreamingChat(StreamingChatConfig{
			Client:        client,
			Retriever:     retriever,
			SystemMessage: opts.SystemMessage,
			Analytics:     m.analytics,
			Logger:        m.logger,
		})
	}, nil
}

// JSONChat creates or resumes a framed event-stream session. Sessions
// created here always use the bare-JSON framing; the SSE-standard framing is
// selected by constructing JSONChat directly.
func (m *Manager) JSONChat(modelCfg modelclient.ModelConfig, sessionKey string, opts Options) (string, *JSONChat, error) {
	client, err := m.factory.NewClient(modelCfg)
	if err != nil {
		return "", nil, fmt.Errorf("creating model client: %w", err)
	}
	if client == nil {
		return "", nil, errNoClient
	}

	factory := func() session.Chat {
		return NewJSONChat(JSONChatConfig{
			Client:        client,
			SystemMessage: opts.SystemMessage,
			SSEStandard:   false,
			Analytics:     m.analytics,
			Logger:        m.logger,
		})
	}

	key, stored, err := m.store.GetOrCreate(factory, sessionKey, opts.Category, opts.UserID)
	if err != nil {
		return "", nil, err
	}

	jc, ok := stored.(*JSONChat)
	if !ok {
		return "", nil, fmt.Errorf("session %q: %w", key, ErrWrongProtocol)
	}
	return key, jc, nil
}

// Get looks a session up by key. It fails with session.ErrInvalidSession for
// unknown and expired keys alike.
func (m *Manager) Get(sessionKey string) (session.Chat, error) {
	return m.store.Get(sessionKey)
}

// Delete tears a session down. Deleting an absent key is a no-op.
func (m *Manager) Delete(sessionKey string) {
	m.store.Delete(sessionKey)
}

// DumpAsText renders a session's transcript if it belongs to owner.
func (m *Manager) DumpAsText(sessionKey, owner string) string {
	return m.store.DumpAsText(sessionKey, owner)
}
