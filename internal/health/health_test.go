package health

import (
	"context"
	"sync"
	"testing"
)

func TestCheckAll_EmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("a registry with nothing to probe should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("statuses = %d, want 0", len(statuses))
	}
}

func TestCheckAll_AggregatesVerdicts(t *testing.T) {
	r := NewRegistry()
	r.Register("dataset", func(_ context.Context) Status {
		return Status{Name: "dataset", Healthy: true, Detail: "7 datasets loaded"}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all subsystems up, registry should be healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if statuses[0].Name != "dataset" || statuses[1].Name != "database" {
		t.Errorf("statuses out of registration order: %+v", statuses)
	}
}

func TestCheckAll_OneBadSubsystemFlipsOverall(t *testing.T) {
	r := NewRegistry()
	r.Register("dataset", func(_ context.Context) Status {
		return Status{Name: "dataset", Healthy: true}
	})
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "ping: connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("a failing subsystem must flip the overall verdict")
	}
	if statuses[1].Detail != "ping: connection refused" {
		t.Fatalf("Detail = %q", statuses[1].Detail)
	}
	// The healthy subsystem still reports alongside the failed one.
	if !statuses[0].Healthy {
		t.Error("dataset verdict should be unaffected by the database failing")
	}
}

func TestCheckAll_FillsBlankStatusName(t *testing.T) {
	r := NewRegistry()
	r.Register("upstream", func(_ context.Context) Status {
		return Status{Healthy: true}
	})

	_, statuses := r.CheckAll(context.Background())
	if len(statuses) != 1 || statuses[0].Name != "upstream" {
		t.Fatalf("statuses = %+v, want registration name filled in", statuses)
	}
}

func TestCheckAll_ProbesGetADeadline(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(ctx context.Context) Status {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("probe context should carry a deadline")
		}
		return Status{Name: "database", Healthy: true}
	})
	r.CheckAll(context.Background())
}

func TestRegistry_ConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("dataset", func(_ context.Context) Status {
				return Status{Name: "dataset", Healthy: true}
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
