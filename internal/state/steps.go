package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// ErrPlanNotFound indicates no persisted plan exists for the query.
var ErrPlanNotFound = errors.New("plan not found")

// SavePlan persists a plan to both durable forms in one transaction:
// a serialized snapshot blob for fast restore, and row-per-step records
// as the fallback reconstruction path if the blob is missing or
// unreadable.
func (db *DB) SavePlan(plan *models.Plan) error {
	blob, err := plan.MarshalSnapshot()
	if err != nil {
		return err
	}
	now := formatTime(time.Now())

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO plan_snapshots (plan_id, task_id, data, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(plan_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		`, plan.ID, plan.TaskID, string(blob), now)
		if err != nil {
			return fmt.Errorf("save plan snapshot: %w", err)
		}

		for i, step := range plan.Steps {
			paramsJSON, err := marshalJSON(step.Params)
			if err != nil {
				return fmt.Errorf("encode step params: %w", err)
			}
			depsJSON, err := json.Marshal(step.DependsOn)
			if err != nil {
				return fmt.Errorf("encode step dependencies: %w", err)
			}
			resultJSON, err := marshalAny(step.Result)
			if err != nil {
				return fmt.Errorf("encode step result: %w", err)
			}

			_, err = tx.Exec(`
				INSERT INTO steps (plan_id, step_id, task_id, step_index, action, action_data,
					depends_on, status, result, error, snapshot_ref)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(plan_id, step_id) DO UPDATE SET
					status = excluded.status, result = excluded.result,
					error = excluded.error, snapshot_ref = excluded.snapshot_ref
			`, plan.ID, step.ID, plan.TaskID, i, step.Action, paramsJSON,
				string(depsJSON), string(step.Status), resultJSON,
				nullString(step.Error), nullString(step.SnapshotRef))
			if err != nil {
				return fmt.Errorf("save step %s: %w", step.ID, err)
			}
		}
		return nil
	})
}

// LoadPlan restores a plan by ID. It prefers the serialized snapshot
// and falls back to reconstructing from step rows if the snapshot is
// missing or unreadable. Returns ErrPlanNotFound if neither exists.
func (db *DB) LoadPlan(planID string) (*models.Plan, error) {
	var data string
	row := db.QueryRow(`SELECT data FROM plan_snapshots WHERE plan_id = ?`, planID)
	err := row.Scan(&data)
	if err == nil {
		plan, uerr := models.UnmarshalSnapshot([]byte(data))
		if uerr == nil {
			return plan, nil
		}
		// Corrupt blob: fall through to row reconstruction.
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load plan snapshot: %w", err)
	}

	return db.reconstructPlan(planID)
}

// LoadPlanForTask restores the most recent plan persisted for a task.
func (db *DB) LoadPlanForTask(taskID string) (*models.Plan, error) {
	var planID string
	row := db.QueryRow(`
		SELECT plan_id FROM plan_snapshots WHERE task_id = ? ORDER BY updated_at DESC LIMIT 1
	`, taskID)
	err := row.Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		row = db.QueryRow(`SELECT plan_id FROM steps WHERE task_id = ? LIMIT 1`, taskID)
		err = row.Scan(&planID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", ErrPlanNotFound, taskID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("find plan for task %s: %w", taskID, err)
	}
	return db.LoadPlan(planID)
}

// reconstructPlan rebuilds a plan from its step rows.
func (db *DB) reconstructPlan(planID string) (*models.Plan, error) {
	rows, err := db.Query(`
		SELECT step_id, task_id, step_index, action, action_data, depends_on,
			status, result, error, snapshot_ref
		FROM steps WHERE plan_id = ?
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("load steps for plan %s: %w", planID, err)
	}
	defer rows.Close()

	type indexedStep struct {
		index int
		step  *models.Step
	}
	var taskID string
	var indexed []indexedStep

	for rows.Next() {
		var s models.Step
		var idx int
		var params, deps, result, errMsg, snapshotRef sql.NullString
		if err := rows.Scan(&s.ID, &taskID, &idx, &s.Action, &params, &deps,
			&s.Status, &result, &errMsg, &snapshotRef); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.Error = errMsg.String
		s.SnapshotRef = snapshotRef.String
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &s.Params); err != nil {
				return nil, fmt.Errorf("decode step params: %w", err)
			}
		}
		if deps.Valid {
			if err := json.Unmarshal([]byte(deps.String), &s.DependsOn); err != nil {
				return nil, fmt.Errorf("decode step dependencies: %w", err)
			}
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &s.Result); err != nil {
				return nil, fmt.Errorf("decode step result: %w", err)
			}
		}
		indexed = append(indexed, indexedStep{index: idx, step: &s})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	if len(indexed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })
	plan := &models.Plan{ID: planID, TaskID: taskID}
	for _, is := range indexed {
		plan.Steps = append(plan.Steps, is.step)
	}
	return plan, nil
}

// marshalAny encodes an arbitrary value for storage, NULL when nil.
func marshalAny(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
