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

package sseserver

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/riskline/internal/progress"
)

// settableStore hands back whatever snapshot the test last set.
type settableStore struct {
	mu   sync.Mutex
	snap progress.Snapshot
	ok   bool
}

func (s *settableStore) set(snap progress.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.ok = snap, true
}

func (s *settableStore) Get(_ context.Context, _ string) (progress.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.ok, nil
}

func (s *settableStore) Init(context.Context, string) error { return nil }
func (s *settableStore) Update(context.Context, string, progress.Phase, progress.Status, float64) (progress.Snapshot, error) {
	return progress.Snapshot{}, nil
}
func (s *settableStore) Complete(context.Context, string) error     { return nil }
func (s *settableStore) Fail(context.Context, string, string) error { return nil }
func (s *settableStore) Delete(context.Context, string) error       { return nil }

func snapshot(status progress.Status, overall float64) progress.Snapshot {
	return progress.Snapshot{
		JobID:   "job-1",
		Status:  status,
		Overall: overall,
		Phases: map[progress.Phase]progress.PhaseState{
			progress.PhaseAudio: {Status: status, Progress: overall},
		},
	}
}

var _ = Describe("Generator", func() {
	var (
		store  *settableStore
		gen    *Generator
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		store = &settableStore{}
		gen = NewGenerator(store, "job-1")
		gen.interval = 10 * time.Millisecond
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	collect := func() []progress.Snapshot {
		var got []progress.Snapshot
		for snap := range gen.Events() {
			got = append(got, snap)
		}
		return got
	}

	It("emits each distinct snapshot once and closes on completion", func() {
		store.set(snapshot(progress.StatusProcessing, 25))
		go gen.Run(ctx)

		// Let the first emit land, then advance the snapshot twice.
		var got []progress.Snapshot
		done := make(chan struct{})
		go func() {
			got = collect()
			close(done)
		}()

		time.Sleep(30 * time.Millisecond)
		store.set(snapshot(progress.StatusProcessing, 60))
		time.Sleep(30 * time.Millisecond)
		store.set(snapshot(progress.StatusCompleted, 100))

		Eventually(done, time.Second).Should(BeClosed())
		Expect(len(got)).To(BeNumerically(">=", 3))
		Expect(got[len(got)-1].Status).To(Equal(progress.StatusCompleted))

		for i := 1; i < len(got); i++ {
			Expect(got[i].Overall).To(BeNumerically(">=", got[i-1].Overall))
		}
	})

	It("suppresses a snapshot whose overall regressed", func() {
		store.set(snapshot(progress.StatusProcessing, 75))
		go gen.Run(ctx)

		var got []progress.Snapshot
		done := make(chan struct{})
		go func() {
			got = collect()
			close(done)
		}()

		time.Sleep(30 * time.Millisecond)
		store.set(snapshot(progress.StatusProcessing, 50)) // must be dropped
		time.Sleep(30 * time.Millisecond)
		store.set(snapshot(progress.StatusCompleted, 100))

		Eventually(done, time.Second).Should(BeClosed())
		for _, snap := range got {
			Expect(snap.Overall).NotTo(Equal(50.0))
		}
	})

	It("lets a failed snapshot through even when overall regressed", func() {
		store.set(snapshot(progress.StatusProcessing, 80))
		go gen.Run(ctx)

		var got []progress.Snapshot
		done := make(chan struct{})
		go func() {
			got = collect()
			close(done)
		}()

		time.Sleep(30 * time.Millisecond)
		store.set(snapshot(progress.StatusFailed, 40))

		Eventually(done, time.Second).Should(BeClosed())
		Expect(got[len(got)-1].Status).To(Equal(progress.StatusFailed))
		Expect(got[len(got)-1].Overall).To(Equal(40.0))
	})

	It("terminates within one polling interval of cancellation", func() {
		store.set(snapshot(progress.StatusProcessing, 10))
		go gen.Run(ctx)

		done := make(chan struct{})
		go func() {
			for range gen.Events() {
			}
			close(done)
		}()

		time.Sleep(30 * time.Millisecond)
		cancel()
		Eventually(done, time.Second).Should(BeClosed())
	})
})
