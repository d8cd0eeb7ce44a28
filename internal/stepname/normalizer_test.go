package stepname

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeCatalog struct {
	names []string
	err   error
	loads atomic.Int32
}

func (f *fakeCatalog) LoadStepNames(context.Context) ([]string, error) {
	f.loads.Add(1)
	return f.names, f.err
}

func newTestNormalizer(names ...string) (*Normalizer, *fakeCatalog) {
	cat := &fakeCatalog{names: names}
	return NewNormalizer(cat), cat
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"ssh_to_all_hosts", "SSH_TO_ALL_HOSTS"},
		{"/var/log/pmd/ssh_to_all_hosts_retry_2.log", "SSH_TO_ALL_HOSTS_RETRY_2"},
		{`C:\logs\km_validation_releng.LOG`, "KM_VALIDATION_RELENG"},
		{"grid force copy", "GRID_FORCE_COPY"},
		{"grid force  copy", "GRID_FORCE__COPY"},
		{"A  B", "A__B"},
		{"  padded step  ", "PADDED_STEP"},
		{"step.log.log", "STEP"},
		{"dir/", "DIR"},
		{".log", ""},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMatching(t *testing.T) {
	n, _ := newTestNormalizer(
		"SSH_TO_ALL_HOSTS",
		"SSH_TO_ALL_HOSTS_V2",
		"GRIDFORCE_APP_LOG_COPY",
		"KM_VALIDATION_RELENG",
		"CREATE_IR_ORGS_TABLE_PRESTO_TGT",
		"CREATE_IR",
	)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"blank", "  ", ""},
		{"exact", "SSH_TO_ALL_HOSTS", "SSH_TO_ALL_HOSTS"},
		{"exact lower", "km_validation_releng", "KM_VALIDATION_RELENG"},
		{"longest prefix wins", "SSH_TO_ALL_HOSTS_V2_RETRY", "SSH_TO_ALL_HOSTS_V2"},
		{"dash boundary", "GRIDFORCE_APP_LOG_COPY-ia2", "GRIDFORCE_APP_LOG_COPY"},
		{"no boundary no prefix", "SSH_TO_ALL_HOSTSX", "SSH_TO_ALL_HOSTSX"},
		{"log file with retry suffix", "ssh_to_all_hosts_retry_2.log", "SSH_TO_ALL_HOSTS"},
		{"unique abbreviation", "gridforce", "GRIDFORCE_APP_LOG_COPY"},
		{"ambiguous abbreviation", "SSH", "SSH"},
		{"unknown passes through", "brand new step", "BRAND_NEW_STEP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(ctx, tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAbbreviationExpandsToSingleCanonical(t *testing.T) {
	n, _ := newTestNormalizer("SSH_TO_ALL_HOSTS", "GRIDFORCE_APP_LOG_COPY")
	if got := n.Normalize(context.Background(), "SSH"); got != "SSH_TO_ALL_HOSTS" {
		t.Fatalf("Normalize(SSH) = %q, want SSH_TO_ALL_HOSTS", got)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n, _ := newTestNormalizer(
		"SSH_TO_ALL_HOSTS",
		"SSH_TO_ALL_HOSTS_V2",
		"GRIDFORCE_APP_LOG_COPY",
		"A",
		"A_B",
	)
	ctx := context.Background()
	inputs := []string{
		"", " ", "ssh", "SSH_TO_ALL_HOSTS", "ssh_to_all_hosts_retry_2.log",
		"/tmp/x/ssh_to_all_hosts_v2-2.log.log", "a", "a_b_c", "a-b", "A_", "_A",
		"gridforce app log copy", "weird\tspacing  here", "x.LOG", "dir/sub/",
		"ß_step", "123", "A_B_C_D_E",
	}
	for _, in := range inputs {
		once := n.Normalize(ctx, in)
		twice := n.Normalize(ctx, once)
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeWithEmptyCatalogReturnsSanitized(t *testing.T) {
	n, _ := newTestNormalizer()
	if got := n.Normalize(context.Background(), "ssh_to_all_hosts.log"); got != "SSH_TO_ALL_HOSTS" {
		t.Fatalf("got %q", got)
	}
}

func TestCatalogLoadErrorCachesEmptyVocabulary(t *testing.T) {
	cat := &fakeCatalog{err: errors.New("db down")}
	n := NewNormalizer(cat)
	ctx := context.Background()
	if got := n.Normalize(ctx, "ssh"); got != "SSH" {
		t.Fatalf("got %q", got)
	}
	n.Normalize(ctx, "ssh")
	if cat.loads.Load() != 1 {
		t.Fatalf("loads = %d, want 1", cat.loads.Load())
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	n, cat := newTestNormalizer("SSH_TO_ALL_HOSTS")
	ctx := context.Background()
	if n.Size(ctx) != 1 {
		t.Fatalf("size = %d", n.Size(ctx))
	}
	cat.names = []string{"SSH_TO_ALL_HOSTS", "NEW_STEP"}
	if n.Size(ctx) != 1 {
		t.Fatal("cache should hold until invalidated")
	}
	n.Invalidate()
	if n.Size(ctx) != 2 {
		t.Fatalf("size after invalidate = %d, want 2", n.Size(ctx))
	}
	if cat.loads.Load() != 2 {
		t.Fatalf("loads = %d, want 2", cat.loads.Load())
	}
}

func TestConcurrentNormalizeLoadsOnce(t *testing.T) {
	n, cat := newTestNormalizer("SSH_TO_ALL_HOSTS", "KM_VALIDATION_RELENG")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := n.Normalize(ctx, "ssh_to_all_hosts_retry_1"); got != "SSH_TO_ALL_HOSTS" {
				t.Errorf("got %q", got)
			}
		}()
	}
	wg.Wait()
	if cat.loads.Load() != 1 {
		t.Fatalf("loads = %d, want 1", cat.loads.Load())
	}
}
