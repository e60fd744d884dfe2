package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

// MemoryRepository is an in-memory Repository used in tests.
type MemoryRepository struct {
	mu sync.RWMutex

	rawEvents map[int64]*models.RawEvent
	agents    map[int64]*models.Agent
	tasks     map[int64]*models.Task
	crews     map[int64]*models.Crew
	links     map[int64][]*models.TaskLink
	versions  map[int64]*models.CrewVersion
	runs      map[string]*models.Run
	runEvents map[string][]*models.RunEvent
	users     map[int64]*models.User
	testRuns  map[string]*models.TestRun
	testEvts  map[string][]*models.TestRunEvent
	kbs       map[int64]*models.KnowledgeBase
	kbFiles   map[int64]*models.KBFile
	providers map[int64]*models.AIProvider
	aiModels  map[int64]*models.AIModel
	usageLogs []*models.AIUsageLog

	// BI fixtures, set directly by tests.
	InboxRows   []*models.InboxDailyVolume
	AgentRows   []*models.AgentVolume
	Metrics     *models.TimeMetrics
	BacklogRows []*models.BacklogRow

	nextID int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rawEvents: make(map[int64]*models.RawEvent),
		agents:    make(map[int64]*models.Agent),
		tasks:     make(map[int64]*models.Task),
		crews:     make(map[int64]*models.Crew),
		links:     make(map[int64][]*models.TaskLink),
		versions:  make(map[int64]*models.CrewVersion),
		runs:      make(map[string]*models.Run),
		runEvents: make(map[string][]*models.RunEvent),
		users:     make(map[int64]*models.User),
		testRuns:  make(map[string]*models.TestRun),
		testEvts:  make(map[string][]*models.TestRunEvent),
		kbs:       make(map[int64]*models.KnowledgeBase),
		kbFiles:   make(map[int64]*models.KBFile),
		providers: make(map[int64]*models.AIProvider),
		aiModels:  make(map[int64]*models.AIModel),
	}
}

func (m *MemoryRepository) Close() {}

func (m *MemoryRepository) nextSequence() int64 {
	m.nextID++
	return m.nextID
}

// --- Raw events ---

func (m *MemoryRepository) CreateRawEvent(_ context.Context, ev *models.RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.nextSequence()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	clone := *ev
	m.rawEvents[ev.ID] = &clone
	return nil
}

func (m *MemoryRepository) MarkRawEventInvalid(_ context.Context, id int64, validationError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.rawEvents[id]
	if !ok {
		return ErrNotFound
	}
	ev.IsValid = false
	ev.ValidationError = &validationError
	return nil
}

func (m *MemoryRepository) GetRawEvent(_ context.Context, id int64) (*models.RawEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.rawEvents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *ev
	return &clone, nil
}

// --- Agents ---

func (m *MemoryRepository) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent.ID = m.nextSequence()
	agent.CreatedAt = time.Now().UTC()
	if len(agent.ToolsJSON) == 0 {
		agent.ToolsJSON = []byte("[]")
	}
	clone := *agent
	m.agents[agent.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListAgents(_ context.Context) ([]*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MemoryRepository) DeleteAgent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	for _, t := range m.tasks {
		if t.AgentID != nil && *t.AgentID == id {
			t.AgentID = nil
		}
	}
	return nil
}

// --- Tasks ---

func (m *MemoryRepository) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = m.nextSequence()
	task.CreatedAt = time.Now().UTC()
	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListTasks(_ context.Context) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetTask(_ context.Context, id int64) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryRepository) DeleteTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	for crewID, links := range m.links {
		kept := links[:0]
		for _, l := range links {
			if l.TaskID != id {
				kept = append(kept, l)
			}
		}
		m.links[crewID] = kept
	}
	return nil
}

// --- Crews ---

func (m *MemoryRepository) CreateCrew(_ context.Context, crew *models.Crew) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	crew.ID = m.nextSequence()
	crew.CreatedAt = time.Now().UTC()
	if crew.Process == "" {
		crew.Process = "sequential"
	}
	clone := *crew
	m.crews[crew.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListCrews(_ context.Context) ([]*models.Crew, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Crew, 0, len(m.crews))
	for _, c := range m.crews {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetCrew(_ context.Context, id int64) (*models.Crew, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crews[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *MemoryRepository) DeleteCrew(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.crews[id]; !ok {
		return ErrNotFound
	}
	delete(m.crews, id)
	delete(m.links, id)
	for vid, v := range m.versions {
		if v.CrewID == id {
			delete(m.versions, vid)
		}
	}
	return nil
}

func (m *MemoryRepository) ReplaceTaskLinks(_ context.Context, crewID int64, links []*models.TaskLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]*models.TaskLink, 0, len(links))
	for _, l := range links {
		l.ID = m.nextSequence()
		l.CrewID = crewID
		clone := *l
		stored = append(stored, &clone)
	}
	m.links[crewID] = stored
	return nil
}

func (m *MemoryRepository) ListCrewClosure(_ context.Context, crewID int64) ([]*TaskWithAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make([]*models.TaskLink, len(m.links[crewID]))
	copy(links, m.links[crewID])
	sort.Slice(links, func(i, j int) bool {
		if links[i].StepOrder != links[j].StepOrder {
			return links[i].StepOrder < links[j].StepOrder
		}
		return links[i].ID < links[j].ID
	})

	var closure []*TaskWithAgent
	for _, l := range links {
		task, ok := m.tasks[l.TaskID]
		if !ok {
			continue
		}
		taskClone := *task
		step := &TaskWithAgent{Task: &taskClone, StepOrder: l.StepOrder}
		if task.AgentID != nil {
			if agent, ok := m.agents[*task.AgentID]; ok {
				agentClone := *agent
				step.Agent = &agentClone
			}
		}
		closure = append(closure, step)
	}
	return closure, nil
}

// --- Crew versions ---

func (m *MemoryRepository) CreateCrewVersion(_ context.Context, version *models.CrewVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	version.ID = m.nextSequence()
	version.CreatedAt = time.Now().UTC()
	clone := *version
	m.versions[version.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListCrewVersions(_ context.Context, crewID int64) ([]*models.CrewVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CrewVersion
	for _, v := range m.versions {
		if v.CrewID == crewID {
			clone := *v
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetCrewVersion(_ context.Context, id int64) (*models.CrewVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (m *MemoryRepository) DeleteCrewVersion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.versions[id]; !ok {
		return ErrNotFound
	}
	delete(m.versions, id)
	return nil
}

// --- Runs (read side; SeedRun lets tests insert fixtures) ---

// SeedRun inserts a run with its events directly, bypassing the bot runner.
func (m *MemoryRepository) SeedRun(run *models.Run, events []*models.RunEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.ID] = &clone
	for _, ev := range events {
		evClone := *ev
		m.runEvents[run.ID] = append(m.runEvents[run.ID], &evClone)
	}
}

func (m *MemoryRepository) ListRuns(_ context.Context, req *models.ListRunsRequest) ([]*models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultRunLimit
	}

	var out []*models.Run
	for _, run := range m.runs {
		if req.Source != "" && run.Source != req.Source {
			continue
		}
		if req.Status != "" && run.Status != req.Status {
			continue
		}
		if req.ConversationID != "" && (run.ConversationID == nil || *run.ConversationID != req.ConversationID) {
			continue
		}
		clone := *run
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetRun(_ context.Context, id string) (*models.RunDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	detail := &models.RunDetail{Run: *run}
	for _, ev := range m.runEvents[id] {
		clone := *ev
		detail.Events = append(detail.Events, &clone)
	}
	sort.Slice(detail.Events, func(i, j int) bool { return detail.Events[i].Seq < detail.Events[j].Seq })
	return detail, nil
}

// --- Users ---

func (m *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicate
		}
	}
	user.ID = m.nextSequence()
	user.CreatedAt = time.Now().UTC()
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) ListUsers(_ context.Context, offset, limit int) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		clone := *u
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Test lab ---

func (m *MemoryRepository) CreateTestRun(_ context.Context, run *models.TestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.testRuns[run.ID]; ok {
		return ErrDuplicate
	}
	run.CreatedAt = time.Now().UTC()
	clone := *run
	m.testRuns[run.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetTestRun(_ context.Context, id string) (*models.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.testRuns[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (m *MemoryRepository) AddTestRunEvent(_ context.Context, ev *models.TestRunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.nextSequence()
	ev.CreatedAt = time.Now().UTC()
	clone := *ev
	m.testEvts[ev.RunID] = append(m.testEvts[ev.RunID], &clone)
	return nil
}

func (m *MemoryRepository) ListTestRunEvents(_ context.Context, runID string) ([]*models.TestRunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TestRunEvent
	for _, ev := range m.testEvts[runID] {
		clone := *ev
		out = append(out, &clone)
	}
	return out, nil
}

// --- Knowledge bases ---

func (m *MemoryRepository) CreateKnowledgeBase(_ context.Context, kb *models.KnowledgeBase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb.ID = m.nextSequence()
	kb.CreatedAt = time.Now().UTC()
	if kb.Strategy == "" {
		kb.Strategy = "openai_vector_store"
	}
	clone := *kb
	m.kbs[kb.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListKnowledgeBases(_ context.Context) ([]*models.KnowledgeBase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.KnowledgeBase, 0, len(m.kbs))
	for _, kb := range m.kbs {
		clone := *kb
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetKnowledgeBase(_ context.Context, id int64) (*models.KnowledgeBase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kb, ok := m.kbs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *kb
	return &clone, nil
}

func (m *MemoryRepository) DeleteKnowledgeBase(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kbs[id]; !ok {
		return ErrNotFound
	}
	delete(m.kbs, id)
	for fid, f := range m.kbFiles {
		if f.KBID == id {
			delete(m.kbFiles, fid)
		}
	}
	return nil
}

func (m *MemoryRepository) CreateKBFile(_ context.Context, file *models.KBFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file.ID = m.nextSequence()
	file.CreatedAt = time.Now().UTC()
	if file.Status == "" {
		file.Status = models.KBFileInProgress
	}
	clone := *file
	m.kbFiles[file.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListKBFiles(_ context.Context, kbID int64) ([]*models.KBFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.KBFile
	for _, f := range m.kbFiles {
		if f.KBID == kbID {
			clone := *f
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) UpdateKBFileStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.kbFiles[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	return nil
}

// --- AI catalog ---

func (m *MemoryRepository) CreateProvider(_ context.Context, p *models.AIProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.providers {
		if existing.Name == p.Name {
			return ErrDuplicate
		}
	}
	p.ID = m.nextSequence()
	p.CreatedAt = time.Now().UTC()
	clone := *p
	m.providers[p.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListProviders(_ context.Context) ([]*models.AIProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AIProvider, 0, len(m.providers))
	for _, p := range m.providers {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) UpdateProvider(_ context.Context, p *models.AIProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.providers[p.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Name = p.Name
	existing.BaseURL = p.BaseURL
	existing.IsEnabled = p.IsEnabled
	existing.Notes = p.Notes
	return nil
}

func (m *MemoryRepository) DeleteProvider(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[id]; !ok {
		return ErrNotFound
	}
	delete(m.providers, id)
	for mid, model := range m.aiModels {
		if model.ProviderID == id {
			delete(m.aiModels, mid)
		}
	}
	return nil
}

func (m *MemoryRepository) CreateModel(_ context.Context, model *models.AIModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if model.IsDefault {
		for _, existing := range m.aiModels {
			existing.IsDefault = false
		}
	}
	model.ID = m.nextSequence()
	model.CreatedAt = time.Now().UTC()
	clone := *model
	m.aiModels[model.ID] = &clone
	return nil
}

func (m *MemoryRepository) ListModels(_ context.Context, enabledOnly bool) ([]*models.AIModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AIModel
	for _, model := range m.aiModels {
		if enabledOnly && !model.IsEnabled {
			continue
		}
		clone := *model
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) GetModel(_ context.Context, id int64) (*models.AIModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.aiModels[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *model
	return &clone, nil
}

func (m *MemoryRepository) DeleteModel(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aiModels[id]; !ok {
		return ErrNotFound
	}
	delete(m.aiModels, id)
	return nil
}

func (m *MemoryRepository) ListUsageLogs(_ context.Context, runID string, limit int) ([]*models.AIUsageLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*models.AIUsageLog
	for i := len(m.usageLogs) - 1; i >= 0 && len(out) < limit; i-- {
		l := m.usageLogs[i]
		if runID != "" && (l.RunID == nil || *l.RunID != runID) {
			continue
		}
		clone := *l
		out = append(out, &clone)
	}
	return out, nil
}

// --- BI (fixtures) ---

func (m *MemoryRepository) InboxVolume(_ context.Context, _ *models.BIFilter) ([]*models.InboxDailyVolume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.InboxRows, nil
}

func (m *MemoryRepository) AgentVolume(_ context.Context, _ *models.BIFilter) ([]*models.AgentVolume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.AgentRows, nil
}

func (m *MemoryRepository) TimeMetrics(_ context.Context, _ *models.BIFilter) (*models.TimeMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Metrics == nil {
		return &models.TimeMetrics{}, nil
	}
	return m.Metrics, nil
}

func (m *MemoryRepository) LatestBacklog(_ context.Context, _ *int64) ([]*models.BacklogRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.BacklogRows, nil
}
