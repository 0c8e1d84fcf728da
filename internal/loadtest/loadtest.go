// Package loadtest exercises a pearls database with concurrent claimers.
//
// Each simulated worker opens its own connection pool and its own handle on
// the advisory lock, the same as separate CLI processes would, and claims
// until nothing is ready. A correct run claims every initially ready task
// exactly once.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pearls-dev/pearls/internal/lock"
	"github.com/pearls-dev/pearls/internal/store"
	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/types"
)

// TestDatabase represents a populated database for load testing.
type TestDatabase struct {
	DB         *store.DB
	Path       string
	TaskIDs    []int64
	ReadyIDs   []int64
	BlockedIDs []int64
	TotalTasks int
}

// LatencyStats captures per-operation timings.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
}

// ClaimReport is the outcome of RunConcurrentClaims.
type ClaimReport struct {
	Workers int

	// Claimed maps task id to the number of times it was claimed
	Claimed map[int64]int

	// Duplicates lists ids claimed more than once, ascending
	Duplicates []int64

	Latency *LatencyStats
	Elapsed time.Duration
}

// CreateTestDatabase creates a database at dbPath with numTasks tasks.
//
// Priorities are weighted toward 2. Roughly blockedPct of the tasks get a
// parent from the first half of the id range, so they start blocked.
func CreateTestDatabase(ctx context.Context, dbPath string, numTasks int, blockedPct float64) (*TestDatabase, error) {
	database, err := store.OpenAndInit(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	td := &TestDatabase{
		DB:         database,
		Path:       dbPath,
		TaskIDs:    make([]int64, 0, numTasks),
		TotalTasks: numTasks,
	}

	priorities := []int64{0, 1, 2, 2, 2, 2, 2, 3, 3, 4}
	for i := 0; i < numTasks; i++ {
		priority := priorities[i%len(priorities)]
		task, err := database.AddTask(ctx,
			fmt.Sprintf("Task %d", i),
			fmt.Sprintf("Load test task (priority: p%d)", priority),
			&priority)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert task %d: %w", i, err)
		}
		td.TaskIDs = append(td.TaskIDs, task.ID)
	}

	for _, dep := range generateDependencies(td.TaskIDs, blockedPct) {
		if err := database.AddDependency(ctx, dep.ParentID, dep.ChildID); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert dependency %s: %w", dep, err)
		}
	}

	ready, err := database.ListTasks(ctx, types.ListFilter{States: []types.State{types.StateReady}})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to list ready tasks: %w", err)
	}
	readyMap := make(map[int64]bool, len(ready))
	for _, t := range ready {
		readyMap[t.ID] = true
		td.ReadyIDs = append(td.ReadyIDs, t.ID)
	}
	for _, id := range td.TaskIDs {
		if !readyMap[id] {
			td.BlockedIDs = append(td.BlockedIDs, id)
		}
	}

	return td, nil
}

// Close closes the seeding connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// RunConcurrentClaims starts numWorkers workers that claim until no task is
// ready, then reports who got what.
func (td *TestDatabase) RunConcurrentClaims(ctx context.Context, numWorkers int) (*ClaimReport, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[int64]int)
	var durations []time.Duration
	var errs []error

	start := time.Now()
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			local, times, err := td.claimUntilEmpty(ctx)

			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				claimed[id]++
			}
			durations = append(durations, times...)
			if err != nil {
				errs = append(errs, fmt.Errorf("worker %d: %w", workerID, err))
			}
		}(i)
	}
	wg.Wait()

	report := &ClaimReport{
		Workers: numWorkers,
		Claimed: claimed,
		Latency: computeLatencyStats(durations),
		Elapsed: time.Since(start),
	}
	report.Latency.Errors = len(errs)
	for id, n := range claimed {
		if n > 1 {
			report.Duplicates = append(report.Duplicates, id)
		}
	}
	types.SortIDs(report.Duplicates)

	if len(errs) > 0 {
		return report, errs[0]
	}
	return report, nil
}

// claimUntilEmpty runs one worker with its own store and lock handle.
func (td *TestDatabase) claimUntilEmpty(ctx context.Context) ([]int64, []time.Duration, error) {
	db, err := store.Open(td.Path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()
	db.SetLogger(log.New(io.Discard, "", 0))

	svc := tracker.New(db, lock.New(td.Path), &tracker.Config{Logger: log.New(io.Discard, "", 0)})

	var ids []int64
	var durations []time.Duration
	for {
		opStart := time.Now()
		task, err := svc.ClaimNext(ctx)
		durations = append(durations, time.Since(opStart))
		if err != nil {
			return ids, durations, err
		}
		if task == nil {
			return ids, durations, nil
		}
		ids = append(ids, task.ID)
	}
}

// RunConcurrentQueries has numReaders readers list ready tasks
// queriesPerReader times each, without taking the lock.
func (td *TestDatabase) RunConcurrentQueries(ctx context.Context, numReaders, queriesPerReader int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	results := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	filter := types.ListFilter{States: []types.State{types.StateReady}}
	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()
			durations := make([]time.Duration, 0, queriesPerReader)
			for j := 0; j < queriesPerReader; j++ {
				start := time.Now()
				_, err := td.DB.ListTasks(ctx, filter)
				durations = append(durations, time.Since(start))
				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					break
				}
			}
			results <- durations
		}(i)
	}
	wg.Wait()
	close(results)
	close(errorsChan)

	var all []time.Duration
	for d := range results {
		all = append(all, d...)
	}
	stats := computeLatencyStats(all)
	var firstErr error
	for err := range errorsChan {
		stats.Errors++
		if firstErr == nil {
			firstErr = err
		}
	}
	return stats, firstErr
}

// generateDependencies links children in the second half of ids to parents
// in the first half. A child may get several parents.
func generateDependencies(ids []int64, blockedPct float64) []types.Dependency {
	if blockedPct <= 0 || len(ids) < 2 {
		return nil
	}
	if blockedPct > 1 {
		blockedPct = 1
	}

	rng := rand.New(rand.NewSource(42))
	half := len(ids) / 2
	numToBlock := int(float64(len(ids)) * blockedPct)

	deps := make([]types.Dependency, 0, numToBlock)
	for i := 0; i < numToBlock; i++ {
		parent := ids[rng.Intn(half)]
		child := ids[half+rng.Intn(len(ids)-half)]
		deps = append(deps, types.Dependency{ParentID: parent, ChildID: child})
	}
	return deps
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(sorted),
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Print writes a summary of the claim run to w.
func (r *ClaimReport) Print(w io.Writer) {
	fmt.Fprintf(w, "Workers:    %d\n", r.Workers)
	fmt.Fprintf(w, "Claimed:    %d\n", len(r.Claimed))
	fmt.Fprintf(w, "Duplicates: %d\n", len(r.Duplicates))
	fmt.Fprintf(w, "Elapsed:    %v\n", r.Elapsed)
	r.Latency.Print(w)
}
