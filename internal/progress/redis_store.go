/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/riskline/internal/errkind"
)

const keyPrefix = "job_progress:"
const startTimeKeyPrefix = "job_start_time:"

// updateScript performs the read-modify-write atomically server-side,
// so concurrent writers can never interleave a stale read. It expects
// the current snapshot JSON (or an empty string), the phase being
// updated, its new status/progress, the phase weights and ordering as
// JSON, and the elapsed seconds since the job started; it returns the
// recomputed snapshot JSON.
var updateScript = redis.NewScript(`
local key = KEYS[1]
local existing = redis.call('GET', key)
local phase = ARGV[1]
local status = ARGV[2]
local pct = tonumber(ARGV[3])
local weights = cjson.decode(ARGV[4])
local order = cjson.decode(ARGV[5])
local elapsed = tonumber(ARGV[6])
local job_id = ARGV[7]
local ttl = tonumber(ARGV[8])

local snap
if existing then
  snap = cjson.decode(existing)
else
  snap = {job_id = job_id, status = "pending", overall = 0, phases = {}}
end

if pct > 100 then pct = 100 end
snap.phases[phase] = {status = status, progress = pct}

local overall = 0
for _, p in ipairs(order) do
  local ph = snap.phases[p]
  local w = weights[p] or 0
  if ph then
    overall = overall + (ph.progress * w)
  end
end
overall = math.floor(overall * 100 + 0.5) / 100
snap.overall = overall

if overall > 0 and elapsed >= 0 then
  if overall < 100 then
    local estimated_total = elapsed / (overall / 100)
    snap.estimated_remaining_seconds = math.floor((estimated_total - elapsed) + 0.5)
  else
    snap.estimated_remaining_seconds = 0
  end
else
  snap.estimated_remaining_seconds = cjson.null
end

local all_completed = true
local any_failed = false
for _, p in ipairs(order) do
  local ph = snap.phases[p]
  if not ph then
    all_completed = false
  elseif ph.status == "failed" then
    any_failed = true
    all_completed = false
  elseif ph.status ~= "completed" then
    all_completed = false
  end
end

-- For analysis snapshots the risk phase is the join point: once it is
-- terminal it decides the job outcome, even when a perceptual phase
-- degraded. Single-phase export snapshots fail on any failure.
local risk = snap.phases["risk"]
if risk ~= nil then
  if risk.status == "failed" then
    snap.status = "failed"
  elseif risk.status == "completed" then
    snap.status = "completed"
  else
    snap.status = "processing"
  end
elseif any_failed then
  snap.status = "failed"
elseif all_completed then
  snap.status = "completed"
else
  snap.status = "processing"
end

local encoded = cjson.encode(snap)
redis.call('SET', key, encoded, 'EX', ttl)
return encoded
`)

// RedisStore is the production Store backed by a shared go-redis
// client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client; callers own the client's
// lifecycle (it is typically shared with the task queue adapter).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Init(ctx context.Context, jobID string) error {
	snap := Snapshot{
		JobID:   jobID,
		Status:  StatusPending,
		Overall: 0,
		Phases:  make(map[Phase]PhaseState, len(AnalysisPhases)),
	}
	for _, p := range AnalysisPhases {
		snap.Phases[p] = PhaseState{Status: StatusPending, Progress: 0}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "marshal initial snapshot")
	}
	key := keyPrefix + jobID
	if err := s.client.Set(ctx, key, data, time.Duration(TTL)*time.Second).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "init progress snapshot")
	}
	if err := s.client.Set(ctx, startTimeKeyPrefix+jobID, nowUnix(), time.Duration(TTL)*time.Second).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "init start time")
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, jobID string, phase Phase, status Status, pct float64) (Snapshot, error) {
	elapsed := -1.0
	if startRaw, err := s.client.Get(ctx, startTimeKeyPrefix+jobID).Result(); err == nil {
		var started float64
		if _, scanErr := fmt.Sscanf(startRaw, "%f", &started); scanErr == nil {
			elapsed = nowUnixFloat() - started
		}
	}

	weights := DefaultWeights
	order := AnalysisPhases
	if phase == PhaseExport {
		weights = map[Phase]float64{PhaseExport: 1}
		order = []Phase{PhaseExport}
	}
	weightsJSON, _ := json.Marshal(weights)
	orderJSON, _ := json.Marshal(order)

	res, err := updateScript.Run(ctx, s.client, []string{keyPrefix + jobID},
		string(phase), string(status), pct, string(weightsJSON), string(orderJSON), elapsed, jobID, TTL,
	).Result()
	if err != nil {
		return Snapshot{}, errkind.Wrap(errkind.Internal, err, "atomic progress update")
	}

	raw, ok := res.(string)
	if !ok {
		return Snapshot{}, errkind.New(errkind.Internal, "progress update script returned unexpected type")
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, errkind.Wrap(errkind.Internal, err, "decode updated snapshot")
	}
	return snap, nil
}

func (s *RedisStore) Complete(ctx context.Context, jobID string) error {
	snap, ok, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		snap = Snapshot{JobID: jobID, Phases: make(map[Phase]PhaseState)}
	}
	snap.Status = StatusCompleted
	snap.Overall = 100
	zero := 0.0
	snap.EstimatedRemainingSeconds = &zero
	for _, p := range phaseOrderFor(snap.Phases) {
		snap.Phases[p] = PhaseState{Status: StatusCompleted, Progress: 100}
	}
	return s.put(ctx, jobID, snap)
}

func (s *RedisStore) Fail(ctx context.Context, jobID string, errMsg string) error {
	snap, ok, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		snap = Snapshot{JobID: jobID, Phases: make(map[Phase]PhaseState)}
	}
	snap.Status = StatusFailed
	snap.Error = &errMsg
	return s.put(ctx, jobID, snap)
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errkind.Wrap(errkind.Internal, err, "get progress snapshot")
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, errkind.Wrap(errkind.Internal, err, "decode progress snapshot")
	}
	return snap, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, keyPrefix+jobID, startTimeKeyPrefix+jobID).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "delete progress snapshot")
	}
	return nil
}

func (s *RedisStore) put(ctx context.Context, jobID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "marshal snapshot")
	}
	if err := s.client.Set(ctx, keyPrefix+jobID, data, time.Duration(TTL)*time.Second).Err(); err != nil {
		return errkind.Wrap(errkind.Internal, err, "put snapshot")
	}
	return nil
}

func nowUnix() string {
	return fmt.Sprintf("%d", time.Now().Unix())
}

func nowUnixFloat() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
