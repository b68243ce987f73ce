// Package agent runs one conversation turn: it loads the conversation,
// guards against loops, asks the model, reconciles the answer into the
// registration and decides when a registration is complete or updated.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/familienverein/meistereder/internal/events"
	"github.com/familienverein/meistereder/internal/llm"
	"github.com/familienverein/meistereder/internal/lock"
	"github.com/familienverein/meistereder/internal/metrics"
	"github.com/familienverein/meistereder/internal/models"
	"github.com/familienverein/meistereder/internal/services"
	"github.com/familienverein/meistereder/internal/store"
)

// Store is the persistence the agent needs; *store.Store implements it.
type Store interface {
	Load(ctx context.Context, identity string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
	SaveRegistration(ctx context.Context, conv *models.Conversation) (string, int, error)
	SaveRegistrationVersion(ctx context.Context, conv *models.Conversation, changes map[string]models.Change) (string, int, error)
}

// Notifier receives fire-and-forget requests. Errors are logged by the
// agent and never change the outcome of a turn.
type Notifier interface {
	NotifyAdmin(ctx context.Context, ev events.RegistrationSubmitted) error
	NotifyRegistrationUpdate(ctx context.Context, ev events.RegistrationUpdated) error
	NotifyParent(ctx context.Context, ev events.ParentConfirmation) error
	NotifyLoopEscalation(ctx context.Context, ev events.LoopEscalation) error
}

type Knowledge interface {
	Text() string
}

// Inbound is one message as delivered by a channel, already stripped of
// quoted reply text.
type Inbound struct {
	Channel   models.Channel
	Sender    string
	Text      string
	MessageID string
}

type Config struct {
	Model           string
	MaxTokens       int
	HistoryLimit    int // messages sent to the model; 0 sends everything
	MaxUserMessages int
}

type Agent struct {
	provider  llm.Provider
	store     Store
	notifier  Notifier
	prompts   *PromptBuilder
	knowledge string
	locker    lock.Locker
	lockWait  time.Duration
	guard     Guard
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// defaultLockWait covers a queued turn behind a slow model call.
const defaultLockWait = 5 * time.Minute

type Option func(*Agent)

func WithLocker(l lock.Locker) Option {
	return func(a *Agent) {
		if l != nil {
			a.locker = l
		}
	}
}

// WithLockWait bounds how long a turn waits for another turn of the same
// conversation to finish.
func WithLockWait(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.lockWait = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func WithPromptBuilder(pb *PromptBuilder) Option {
	return func(a *Agent) {
		if pb != nil {
			a.prompts = pb
		}
	}
}

func New(provider llm.Provider, st Store, notifier Notifier, kb Knowledge, cfg Config, log zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		provider: provider,
		store:    st,
		notifier: notifier,
		locker:   lock.NewLocal(),
		lockWait: defaultLockWait,
		guard:    Guard{Max: cfg.MaxUserMessages},
		cfg:      cfg,
		log:      log.With().Str("component", "agent").Logger(),
		now:      time.Now,
	}
	if kb != nil {
		a.knowledge = kb.Text()
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.prompts == nil {
		a.prompts = MustPromptBuilder()
	}
	return a
}

// ProcessMessage handles one inbound message and returns the reply to send.
// An empty reply means nothing must be sent.
func (a *Agent) ProcessMessage(ctx context.Context, in Inbound) string {
	id := services.NormalizeIdentity(in.Sender)
	log := a.log.With().Str("conversation", id).Str("channel", string(in.Channel)).Logger()

	// A started turn always runs to completion, including the wait for
	// the conversation lock.
	ctx = context.WithoutCancel(ctx)
	unlock, err := a.lock(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("conversation lock not acquired, turn dropped")
		return TechnicalIssueMessage(models.LangDE)
	}
	defer unlock()

	conv, err := a.loadOrCreate(ctx, id, in.Channel)
	if err != nil {
		log.Error().Err(err).Msg("load conversation failed")
		return TechnicalIssueMessage(models.LangDE)
	}

	now := a.now()
	conv.LastActivity = now
	if in.MessageID != "" {
		conv.LastInboundMessageID = in.MessageID
	}
	conv.Append(models.RoleUser, in.Text, now)

	switch a.guard.Check(conv) {
	case Escalate:
		reason := fmt.Sprintf("message limit exceeded: %d user messages (limit %d)", conv.UserMessageCount(), a.guard.max())
		a.escalate(ctx, conv, in.Sender, reason, "message_cap", log)
		metrics.TurnsTotal.WithLabelValues(string(in.Channel), "escalated").Inc()
		return ""
	case Silent:
		conv.UpdatedAt = a.now()
		a.persist(ctx, conv, log)
		metrics.TurnsTotal.WithLabelValues(string(in.Channel), "silenced").Inc()
		return ""
	}

	var reply string
	if conv.Phase() == models.PhaseCompleted {
		reply = a.handlePostCompletion(ctx, conv, log)
		metrics.TurnsTotal.WithLabelValues(string(in.Channel), "post_completion").Inc()
	} else {
		reply = a.handleActive(ctx, conv, log)
		metrics.TurnsTotal.WithLabelValues(string(in.Channel), "active").Inc()
	}

	conv.Append(models.RoleAssistant, reply, a.now())
	conv.UpdatedAt = a.now()
	a.persist(ctx, conv, log)
	return reply
}

// HandleAutomatedMessage records a message from a sender the channel has
// classified as automated (bounce, auto-reply). Such senders never get a
// reply; staff are alerted once per conversation.
func (a *Agent) HandleAutomatedMessage(ctx context.Context, in Inbound, reason string) {
	id := services.NormalizeIdentity(in.Sender)
	log := a.log.With().Str("conversation", id).Str("channel", string(in.Channel)).Logger()

	ctx = context.WithoutCancel(ctx)
	unlock, err := a.lock(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("conversation lock not acquired, automated message dropped")
		return
	}
	defer unlock()

	conv, err := a.loadOrCreate(ctx, id, in.Channel)
	if err != nil {
		log.Error().Err(err).Msg("load conversation failed")
		return
	}

	now := a.now()
	conv.LastActivity = now
	conv.UpdatedAt = now
	if in.MessageID != "" {
		conv.LastInboundMessageID = in.MessageID
	}
	conv.Append(models.RoleUser, in.Text, now)

	if conv.Escalation() == models.EscalationEscalated {
		log.Info().Str("reason", reason).Msg("automated message dropped")
		a.persist(ctx, conv, log)
		return
	}
	a.escalate(ctx, conv, in.Sender, reason, "automated_sender", log)
}

func (a *Agent) escalate(ctx context.Context, conv *models.Conversation, sender, reason, label string, log zerolog.Logger) {
	conv.LoopEscalated = true
	conv.UpdatedAt = a.now()
	a.persist(ctx, conv, log)
	metrics.LoopEscalationsTotal.WithLabelValues(label).Inc()
	log.Warn().Str("sender", sender).Str("reason", reason).Msg("conversation escalated, going silent")

	ev := events.LoopEscalation{
		Sender:         sender,
		ConversationID: conv.ConversationID,
		Reason:         reason,
		MessageCount:   conv.UserMessageCount(),
	}
	a.dispatch("loop_escalation", log, func() error {
		return a.notifier.NotifyLoopEscalation(ctx, ev)
	})
}

func (a *Agent) handleActive(ctx context.Context, conv *models.Conversation, log zerolog.Logger) string {
	system, err := a.prompts.Active(a.knowledge, conv)
	if err != nil {
		log.Error().Err(err).Msg("build prompt failed")
		return TechnicalIssueMessage(conv.Language)
	}
	raw, err := a.complete(ctx, system, conv)
	if err != nil {
		metrics.ModelFailuresTotal.Inc()
		log.Error().Err(err).Msg("model call failed")
		return TechnicalIssueMessage(conv.Language)
	}

	res := a.reconcile(raw, conv, log)
	ApplyUpdates(conv, res.Updates, log)
	conv.FlowStep = res.NextStep
	conv.Language = res.Language

	if res.RegistrationComplete && conv.Phase() == models.PhaseActive {
		a.completeRegistration(ctx, conv, log)
	}
	return a.replyText(res, conv)
}

func (a *Agent) completeRegistration(ctx context.Context, conv *models.Conversation, log zerolog.Logger) {
	conv.Completed = true
	if conv.ParentEmail == "" {
		conv.ParentEmail = models.Str(conv.Registration.ParentGuardian.Email)
	}

	key, version, err := a.store.SaveRegistration(ctx, conv)
	if err != nil {
		// Staff still get the full record by mail.
		log.Error().Err(err).Msg("saving registration failed")
	} else {
		metrics.RegistrationVersionsTotal.WithLabelValues("new").Inc()
		log.Info().Str("registration", key).Int("version", version).Msg("registration complete")
	}

	reg := conv.Registration.Clone()
	a.dispatch("admin", log, func() error {
		return a.notifier.NotifyAdmin(ctx, events.RegistrationSubmitted{
			Registration:   reg,
			RegistrationID: conv.RegistrationKey(),
			Version:        version,
			ConversationID: conv.ConversationID,
			Channel:        conv.Channel,
		})
	})
	a.dispatch("parent", log, func() error {
		return a.notifier.NotifyParent(ctx, events.ParentConfirmation{
			Registration: reg,
			Language:     conv.Language,
		})
	})
}

func (a *Agent) handlePostCompletion(ctx context.Context, conv *models.Conversation, log zerolog.Logger) string {
	system, err := a.prompts.PostCompletion(a.knowledge, conv)
	if err != nil {
		log.Error().Err(err).Msg("build prompt failed")
		return TechnicalIssueMessage(conv.Language)
	}
	raw, err := a.complete(ctx, system, conv)
	if err != nil {
		metrics.ModelFailuresTotal.Inc()
		log.Error().Err(err).Msg("model call failed")
		return TechnicalIssueMessage(conv.Language)
	}

	res := a.reconcile(raw, conv, log)
	conv.Language = res.Language

	switch {
	case res.Intent == IntentUpdate && HasValues(res.Updates):
		a.applyConfirmedUpdate(ctx, conv, res.Updates, log)
	case res.Intent == IntentNewChild:
		conv.StartNewChild()
		log.Info().Int("child", conv.ChildIndex+1).Msg("new child registration started")
	}
	return a.replyText(res, conv)
}

// applyConfirmedUpdate versions a post-completion change. Updates that
// leave the record unchanged produce no version and no notification.
func (a *Agent) applyConfirmedUpdate(ctx context.Context, conv *models.Conversation, updates map[string]any, log zerolog.Logger) {
	before := conv.Registration.Clone()
	ApplyUpdates(conv, updates, log)
	changes := store.Diff(before, conv.Registration)
	if len(changes) == 0 {
		log.Debug().Msg("update changed nothing")
		return
	}

	key, version, err := a.store.SaveRegistrationVersion(ctx, conv, changes)
	if err != nil {
		log.Error().Err(err).Msg("saving registration update failed")
		return
	}
	metrics.RegistrationVersionsTotal.WithLabelValues("update").Inc()
	log.Info().Str("registration", key).Int("version", version).Int("changes", len(changes)).Msg("registration updated")

	reg := conv.Registration.Clone()
	a.dispatch("registration_update", log, func() error {
		return a.notifier.NotifyRegistrationUpdate(ctx, events.RegistrationUpdated{
			Registration:   reg,
			RegistrationID: key,
			Version:        version,
			Changes:        changes,
			ConversationID: conv.ConversationID,
		})
	})
}

func (a *Agent) complete(ctx context.Context, system string, conv *models.Conversation) (string, error) {
	msgs := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	resp, err := a.provider.Complete(ctx, llm.Request{
		Model:     a.cfg.Model,
		System:    system,
		Messages:  llm.Window(msgs, a.cfg.HistoryLimit),
		MaxTokens: a.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (a *Agent) reconcile(raw string, conv *models.Conversation, log zerolog.Logger) TurnResult {
	parsed, fallback := parse(raw)
	if fallback {
		metrics.ParseFallbacksTotal.Inc()
		log.Warn().Int("length", len(raw)).Msg("model output had no JSON object")
	}
	return Decode(parsed, conv)
}

func (a *Agent) replyText(res TurnResult, conv *models.Conversation) string {
	if strings.TrimSpace(res.Reply) == "" {
		return TechnicalIssueMessage(conv.Language)
	}
	return res.Reply
}

func (a *Agent) loadOrCreate(ctx context.Context, id string, ch models.Channel) (*models.Conversation, error) {
	conv, err := a.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	conv = models.NewConversation(id, ch, a.now())
	if ch == models.ChannelEmail {
		conv.ParentEmail = id
	}
	return conv, nil
}

func (a *Agent) persist(ctx context.Context, conv *models.Conversation, log zerolog.Logger) {
	if err := a.store.Save(ctx, conv); err != nil {
		metrics.PersistFailuresTotal.Inc()
		log.Error().Err(err).Msg("saving conversation failed")
	}
}

// lock waits at most lockWait for the conversation. A turn never runs
// without holding it.
func (a *Agent) lock(ctx context.Context, id string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, a.lockWait)
	defer cancel()
	unlock, err := a.locker.Lock(ctx, id)
	if err != nil {
		metrics.LockFailuresTotal.Inc()
		return nil, err
	}
	return unlock, nil
}

func (a *Agent) dispatch(kind string, log zerolog.Logger, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailuresTotal.WithLabelValues(kind).Inc()
			log.Error().Interface("panic", r).Str("notification", kind).Msg("notifier panicked")
		}
	}()
	if a.notifier == nil {
		return
	}
	if err := fn(); err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues(kind).Inc()
		log.Error().Err(err).Str("notification", kind).Msg("notification failed")
	}
}
