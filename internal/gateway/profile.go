package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/jmoyers/harness-sub014/internal/log"
)

// profiler toggles a CPU profile on the running gateway, driven by the
// profile.start and profile.stop commands. At most one profile runs at a
// time.
type profiler struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	path string
}

func newProfiler(dir string) *profiler { return &profiler{dir: dir} }

// SetDir points new profiles at dir, typically the workspace state dir.
func (p *profiler) SetDir(dir string) {
	p.mu.Lock()
	p.dir = dir
	p.mu.Unlock()
}

// Start begins a CPU profile and returns its path.
func (p *profiler) Start() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		return "", fmt.Errorf("profile already running: %s", p.path)
	}

	path := filepath.Join(p.dir,
		"cpu-"+time.Now().UTC().Format("20060102T150405Z")+".pprof")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	p.file = f
	p.path = path
	log.Info(log.CatGateway, "cpu profile started", "path", path)
	return path, nil
}

// Stop ends the running profile and returns the path it was written to.
func (p *profiler) Stop() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return "", fmt.Errorf("no profile running")
	}
	pprof.StopCPUProfile()
	err := p.file.Close()
	path := p.path
	p.file, p.path = nil, ""
	log.Info(log.CatGateway, "cpu profile stopped", "path", path)
	return path, err
}
