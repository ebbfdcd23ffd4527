package gateway

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// GitStatus is the summary returned by directory.git-status.
type GitStatus struct {
	Branch string `json:"branch"`
	Dirty  bool   `json:"dirty"`
	Ahead  int    `json:"ahead"`
	Behind int    `json:"behind"`
}

// GitProbe inspects a working tree. Pluggable so tests inject fakes.
type GitProbe func(path string) (GitStatus, error)

// GitStatusCache is a read-through TTL cache over a GitProbe; repeated
// status commands within the TTL hit the cache instead of spawning git.
type GitStatusCache struct {
	cache *gocache.Cache
	probe GitProbe
}

// NewGitStatusCache builds a cache with the given entry lifetime. A nil
// probe uses the git CLI.
func NewGitStatusCache(ttl time.Duration, probe GitProbe) *GitStatusCache {
	if probe == nil {
		probe = gitCLIProbe
	}
	return &GitStatusCache{
		cache: gocache.New(ttl, 2*ttl),
		probe: probe,
	}
}

// Status returns the cached summary for path, probing on miss.
func (c *GitStatusCache) Status(path string) (GitStatus, error) {
	if cached, ok := c.cache.Get(path); ok {
		return cached.(GitStatus), nil
	}
	status, err := c.probe(path)
	if err != nil {
		return GitStatus{}, err
	}
	c.cache.Set(path, status, gocache.DefaultExpiration)
	return status, nil
}

// gitCLIProbe shells out to git. Missing upstream leaves ahead/behind at
// zero rather than failing the probe.
func gitCLIProbe(path string) (GitStatus, error) {
	branch, err := gitOutput(path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return GitStatus{}, fmt.Errorf("probing git branch: %w", err)
	}

	porcelain, err := gitOutput(path, "status", "--porcelain")
	if err != nil {
		return GitStatus{}, fmt.Errorf("probing git status: %w", err)
	}

	status := GitStatus{Branch: branch, Dirty: porcelain != ""}

	if counts, err := gitOutput(path, "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); err == nil {
		fields := strings.Fields(counts)
		if len(fields) == 2 {
			status.Behind, _ = strconv.Atoi(fields[0])
			status.Ahead, _ = strconv.Atoi(fields[1])
		}
	}
	return status, nil
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
