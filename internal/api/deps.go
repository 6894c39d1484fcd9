package api

import (
	"github.com/opsdeck/opsdeck-backend/internal/agent"
	"github.com/opsdeck/opsdeck-backend/internal/alert"
	"github.com/opsdeck/opsdeck-backend/internal/bus"
	"github.com/opsdeck/opsdeck-backend/internal/scan"
)

// Shared runtime components, injected once from main before routes are served.

var (
	evbus        bus.Bus
	scanManager  *scan.Manager
	agentRunner  *agent.Runner
	agentEngine  *agent.Engine
	alertChecker *alert.Evaluator
)

func SetBus(b bus.Bus)                     { evbus = b }
func SetScanManager(m *scan.Manager)       { scanManager = m }
func SetAgentRunner(r *agent.Runner)       { agentRunner = r }
func SetAgentEngine(e *agent.Engine)       { agentEngine = e }
func SetAlertEvaluator(e *alert.Evaluator) { alertChecker = e }
