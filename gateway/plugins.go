// Copyright 2026 TaskMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// HookPoint names an extension point in the routing pipeline.
type HookPoint string

const (
	// HookBeforeRoute runs before provider selection starts.
	HookBeforeRoute HookPoint = "beforeAIRoute"

	// HookAfterRoute runs after a response has been produced.
	HookAfterRoute HookPoint = "afterAIRoute"

	// HookGovernanceDecision runs when the policy engine classifies a
	// request.
	HookGovernanceDecision HookPoint = "governanceDecision"

	// HookOptimizerUpdate runs when a provider's score moves materially.
	HookOptimizerUpdate HookPoint = "optimizerUpdate"
)

// knownHookPoints is the set of valid extension points.
var knownHookPoints = map[HookPoint]bool{
	HookBeforeRoute:        true,
	HookAfterRoute:         true,
	HookGovernanceDecision: true,
	HookOptimizerUpdate:    true,
}

// HookFunc is an externally supplied hook. The context carries the hard
// per-hook deadline; hooks that ignore it are abandoned, not awaited.
type HookFunc func(ctx context.Context, hookCtx map[string]interface{}) error

// Plugin bundles a set of hooks under a name.
type Plugin struct {
	Name  string
	Hooks map[HookPoint]HookFunc
}

// DefaultHookTimeout is the hard per-hook execution budget. Plugin
// misbehavior must never affect the primary routing outcome.
const DefaultHookTimeout = 50 * time.Millisecond

type registeredHook struct {
	plugin string
	fn     HookFunc
}

// PluginManager registers plugins and executes their hooks with isolated
// failure: a hook that returns an error, panics, or exceeds the timeout is
// logged and skipped.
type PluginManager struct {
	timeout time.Duration
	logger  *log.Logger

	mu    sync.RWMutex
	hooks map[HookPoint][]registeredHook
	names map[string]bool
}

// NewPluginManager creates a manager with the default 50ms hook timeout.
func NewPluginManager() *PluginManager {
	return &PluginManager{
		timeout: DefaultHookTimeout,
		logger:  log.New(os.Stdout, "[PLUGIN_MANAGER] ", log.LstdFlags),
		hooks:   make(map[HookPoint][]registeredHook),
		names:   make(map[string]bool),
	}
}

// Register validates the plugin shape and indexes each hook under its
// extension point.
func (m *PluginManager) Register(plugin Plugin) error {
	if plugin.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if len(plugin.Hooks) == 0 {
		return fmt.Errorf("plugin %q declares no hooks", plugin.Name)
	}
	for point, fn := range plugin.Hooks {
		if !knownHookPoints[point] {
			return fmt.Errorf("plugin %q references unknown hook point %q", plugin.Name, point)
		}
		if fn == nil {
			return fmt.Errorf("plugin %q has a nil hook for %q", plugin.Name, point)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.names[plugin.Name] {
		return fmt.Errorf("plugin %q already registered", plugin.Name)
	}
	m.names[plugin.Name] = true
	for point, fn := range plugin.Hooks {
		m.hooks[point] = append(m.hooks[point], registeredHook{plugin: plugin.Name, fn: fn})
	}

	m.logger.Printf("Registered plugin %q (%d hooks)", plugin.Name, len(plugin.Hooks))
	return nil
}

// RunHooks invokes every hook registered for the extension point, each
// with its own hard timeout. Safe to call on a nil manager. Hook
// cancellation never cancels the underlying request: hooks get an
// independent context.
func (m *PluginManager) RunHooks(point HookPoint, hookCtx map[string]interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	for _, h := range hooks {
		m.runOne(point, h, hookCtx)
	}
}

// runOne races the hook against its timeout. The first of (hook
// completes, timeout fires) determines the outcome.
func (m *PluginManager) runOne(point HookPoint, h registeredHook, hookCtx map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- h.fn(ctx, hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Printf("hook %s/%s failed: %v", h.plugin, point, err)
		}
	case <-ctx.Done():
		m.logger.Printf("hook %s/%s timed out after %v", h.plugin, point, m.timeout)
	}
}

// HookCount returns the number of hooks registered for a point.
func (m *PluginManager) HookCount(point HookPoint) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[point])
}
