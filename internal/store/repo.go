package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devforge/kernel/internal/entities"
)

// Repo is the typed façade over Store for the kernel's persisted entity
// kinds. It is the `load(kind, id)`, `save(entity)`, `list(kind, filter)`,
// `delete(kind, id)` contract of §4.1, specialized per entity.
type Repo struct {
	*Store
}

// NewRepo wraps an opened Store.
func NewRepo(s *Store) *Repo { return &Repo{Store: s} }

func featurePath(id string) string { return filepath.Join("features", id+".json") }
func bugPath(id string) string     { return filepath.Join("bugs", id, "state.json") }
func sessionPath(featureID string, issue int, sessionID string) string {
	return filepath.Join("sessions", featureID, fmt.Sprint(issue), sessionID+".json")
}
func checkpointPath(id string) string { return filepath.Join("checkpoints", id+".json") }
func campaignPath(id string) string   { return filepath.Join("campaigns", id+".json") }
func autopilotPath(id string) string  { return filepath.Join("autopilot", id+".json") }

// SaveFeature persists f, setting UpdatedAt on every successful commit.
func (r *Repo) SaveFeature(f *entities.Feature) error {
	f.UpdatedAt = time.Now()
	return r.SaveJSON(featurePath(f.FeatureID), f)
}

// LoadFeature returns the feature by id, or (nil, nil) if it does not exist.
func (r *Repo) LoadFeature(id string) (*entities.Feature, error) {
	var f entities.Feature
	if err := r.LoadJSON(featurePath(id), &f); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// ListFeatures returns every persisted feature id.
func (r *Repo) ListFeatures() ([]string, error) {
	return r.List("features", ".json")
}

// DeleteFeature removes the feature file.
func (r *Repo) DeleteFeature(id string) error {
	return r.Delete(featurePath(id))
}

// SaveBug persists b, setting UpdatedAt on every successful commit.
func (r *Repo) SaveBug(b *entities.Bug) error {
	b.UpdatedAt = time.Now()
	return r.SaveJSON(bugPath(b.BugID), b)
}

// LoadBug returns the bug by id, or (nil, nil) if it does not exist.
func (r *Repo) LoadBug(id string) (*entities.Bug, error) {
	var b entities.Bug
	if err := r.LoadJSON(bugPath(id), &b); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ListBugs returns every persisted bug id.
func (r *Repo) ListBugs() ([]string, error) {
	entries, err := r.Store.listDirs("bugs")
	return entries, err
}

// SaveSession persists sess under its (feature, issue) directory.
func (r *Repo) SaveSession(sess *entities.Session) error {
	return r.SaveJSON(sessionPath(sess.FeatureID, sess.IssueNumber, sess.SessionID), sess)
}

// LoadSession returns a session by its (feature, issue, session) key.
func (r *Repo) LoadSession(featureID string, issue int, sessionID string) (*entities.Session, error) {
	var s entities.Session
	if err := r.LoadJSON(sessionPath(featureID, issue, sessionID), &s); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ActiveSession returns the active session for (featureID, issue), if any.
// Because WithLock enforces exclusivity, at most one should ever be found;
// this scans for diagnostic/recovery use (e.g. after a crash) rather than
// being the enforcement mechanism itself.
func (r *Repo) ActiveSession(featureID string, issue int) (*entities.Session, error) {
	dir := filepath.Join("sessions", featureID, fmt.Sprint(issue))
	ids, err := r.List(dir, ".json")
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s, err := r.LoadSession(featureID, issue, id)
		if err != nil {
			return nil, err
		}
		if s != nil && s.Status == entities.SessionActive {
			return s, nil
		}
	}
	return nil, nil
}

// SaveCheckpoint persists c.
func (r *Repo) SaveCheckpoint(c *entities.Checkpoint) error {
	return r.SaveJSON(checkpointPath(c.CheckpointID), c)
}

// LoadCheckpoint returns a checkpoint by id, or (nil, nil) if absent.
func (r *Repo) LoadCheckpoint(id string) (*entities.Checkpoint, error) {
	var c entities.Checkpoint
	if err := r.LoadJSON(checkpointPath(id), &c); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListPendingCheckpoints returns every checkpoint whose status is pending.
func (r *Repo) ListPendingCheckpoints() ([]entities.Checkpoint, error) {
	ids, err := r.List("checkpoints", ".json")
	if err != nil {
		return nil, err
	}
	var pending []entities.Checkpoint
	for _, id := range ids {
		c, err := r.LoadCheckpoint(id)
		if err != nil {
			return nil, err
		}
		if c != nil && c.Status == entities.CheckpointPending {
			pending = append(pending, *c)
		}
	}
	return pending, nil
}

// SaveCampaign persists c, setting UpdatedAt on every successful commit.
func (r *Repo) SaveCampaign(c *entities.Campaign) error {
	c.UpdatedAt = time.Now()
	return r.SaveJSON(campaignPath(c.CampaignID), c)
}

// LoadCampaign returns a campaign by id, or (nil, nil) if absent.
func (r *Repo) LoadCampaign(id string) (*entities.Campaign, error) {
	var c entities.Campaign
	if err := r.LoadJSON(campaignPath(id), &c); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SaveAutopilotSession persists s.
func (r *Repo) SaveAutopilotSession(s *entities.AutopilotSession) error {
	return r.SaveJSON(autopilotPath(s.SessionID), s)
}

// LoadAutopilotSession returns an autopilot session by id, or (nil, nil) if
// absent.
func (r *Repo) LoadAutopilotSession(id string) (*entities.AutopilotSession, error) {
	var s entities.AutopilotSession
	if err := r.LoadJSON(autopilotPath(id), &s); err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListPausedAutopilotSessions returns every autopilot session whose status
// is paused.
func (r *Repo) ListPausedAutopilotSessions() ([]entities.AutopilotSession, error) {
	ids, err := r.List("autopilot", ".json")
	if err != nil {
		return nil, err
	}
	var paused []entities.AutopilotSession
	for _, id := range ids {
		s, err := r.LoadAutopilotSession(id)
		if err != nil {
			return nil, err
		}
		if s != nil && s.Status == entities.AutopilotPaused {
			paused = append(paused, *s)
		}
	}
	return paused, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
