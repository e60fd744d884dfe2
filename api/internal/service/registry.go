// Package service holds the business logic between the HTTP handlers and
// the repository.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/metrics"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
)

// RegistryService manages the bot studio graph and version publishing.
type RegistryService struct {
	repo repository.Repository
}

func NewRegistryService(repo repository.Repository) *RegistryService {
	return &RegistryService{repo: repo}
}

// GetCrewDetail loads a crew with its tasks in execution order and its
// published versions.
func (s *RegistryService) GetCrewDetail(ctx context.Context, crewID int64) (*models.CrewDetail, error) {
	crew, err := s.repo.GetCrew(ctx, crewID)
	if err != nil {
		return nil, err
	}

	closure, err := s.repo.ListCrewClosure(ctx, crewID)
	if err != nil {
		return nil, err
	}

	versions, err := s.repo.ListCrewVersions(ctx, crewID)
	if err != nil {
		return nil, err
	}

	detail := &models.CrewDetail{Crew: *crew, Versions: versions}
	for _, step := range closure {
		detail.Tasks = append(detail.Tasks, step.Task)
	}
	return detail, nil
}

// SetCrewTasks overwrites the crew's task links with the given ordered list.
// Every referenced task must exist; the overwrite is all-or-nothing.
func (s *RegistryService) SetCrewTasks(ctx context.Context, crewID int64, reqs []*models.TaskLinkRequest) error {
	if _, err := s.repo.GetCrew(ctx, crewID); err != nil {
		return err
	}

	links := make([]*models.TaskLink, 0, len(reqs))
	for _, req := range reqs {
		if _, err := s.repo.GetTask(ctx, req.TaskID); err != nil {
			return fmt.Errorf("task %d: %w", req.TaskID, err)
		}
		links = append(links, &models.TaskLink{TaskID: req.TaskID, StepOrder: req.StepOrder})
	}
	return s.repo.ReplaceTaskLinks(ctx, crewID, links)
}

// PublishCrew captures the crew's current state into an immutable version.
// The snapshot is self-contained: the consumer never re-reads the live
// registry rows, so later edits cannot change what a published version runs.
// A non-nil modelID pins the snapshot to that model; otherwise the catalog
// default is used.
func (s *RegistryService) PublishCrew(ctx context.Context, crewID int64, versionTag string, modelID *int64) (*models.CrewVersion, error) {
	crew, err := s.repo.GetCrew(ctx, crewID)
	if err != nil {
		return nil, err
	}

	closure, err := s.repo.ListCrewClosure(ctx, crewID)
	if err != nil {
		return nil, err
	}
	if len(closure) == 0 {
		return nil, fmt.Errorf("crew %d has no tasks to publish", crewID)
	}

	snapshotModelID := s.defaultModelID(ctx)
	if modelID != nil {
		if _, err := s.repo.GetModel(ctx, *modelID); err != nil {
			return nil, fmt.Errorf("model %d: %w", *modelID, err)
		}
		snapshotModelID = modelID
	}

	snapshot := models.Snapshot{
		Crew: models.SnapshotCrew{
			ID:      crew.ID,
			Name:    crew.Name,
			Process: crew.Process,
			ModelID: snapshotModelID,
		},
		Tasks:  []models.SnapshotTask{},
		Agents: []models.SnapshotAgent{},
		Flow:   []int64{},
	}

	seen := make(map[int64]bool)
	for _, step := range closure {
		task := step.Task
		snapshot.Tasks = append(snapshot.Tasks, models.SnapshotTask{
			ID:             task.ID,
			Name:           task.Name,
			Description:    task.Description,
			ExpectedOutput: task.ExpectedOutput,
			AgentID:        task.AgentID,
		})
		snapshot.Flow = append(snapshot.Flow, task.ID)

		// First occurrence of an agent wins; later steps reuse it.
		if step.Agent != nil && !seen[step.Agent.ID] {
			seen[step.Agent.ID] = true
			tools := step.Agent.ToolsJSON
			if len(tools) == 0 {
				tools = []byte("[]")
			}
			snapshot.Agents = append(snapshot.Agents, models.SnapshotAgent{
				ID:    step.Agent.ID,
				Name:  step.Agent.Name,
				Role:  step.Agent.Role,
				Goal:  step.Agent.Goal,
				Tools: tools,
			})
		}
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if versionTag == "" {
		existing, err := s.repo.ListCrewVersions(ctx, crewID)
		if err != nil {
			return nil, err
		}
		versionTag = fmt.Sprintf("v%d", len(existing)+1)
	}

	version := &models.CrewVersion{
		CrewID:       crewID,
		VersionTag:   versionTag,
		SnapshotJSON: snapshotJSON,
	}
	if err := s.repo.CreateCrewVersion(ctx, version); err != nil {
		return nil, err
	}
	metrics.VersionsPublished.Inc()
	return version, nil
}

// defaultModelID resolves the catalog's default enabled model, if any.
func (s *RegistryService) defaultModelID(ctx context.Context) *int64 {
	catalog, err := s.repo.ListModels(ctx, true)
	if err != nil {
		return nil
	}
	for _, m := range catalog {
		if m.IsDefault {
			id := m.ID
			return &id
		}
	}
	return nil
}
