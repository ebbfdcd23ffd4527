package record

// Total parsers for wire payloads. Every parser accepts any decoded JSON
// value and returns nil on malformed input; parsers never panic and never
// return partially-filled records. Callers decide whether a nil result is
// dropped (list elements) or escalated to a protocol error (single records).
//
// Optional fields distinguish absent, explicit null, and invalid: absent and
// null are accepted for nullable fields, any other wrong-typed value fails
// the whole parse.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// reqString reads a required string field. Empty strings are allowed; use
// reqID for identifiers.
func reqString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// reqID reads a required, non-empty identifier field.
func reqID(m map[string]any, key string) (string, bool) {
	s, ok := reqString(m, key)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// optString reads a nullable string field. Absent and explicit null both
// yield (nil, true); a non-string, non-null value yields (nil, false).
func optString(m map[string]any, key string) (*string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return &s, true
}

// intFromAny coerces JSON and native numeric representations to int,
// rejecting non-integral floats.
func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func uint64FromAny(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func reqInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return intFromAny(v)
}

func optInt(m map[string]any, key string) (*int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, true
	}
	n, ok := intFromAny(v)
	if !ok {
		return nil, false
	}
	return &n, true
}

func optBool(m map[string]any, key string, def bool) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, true
	}
	b, ok := v.(bool)
	return b, ok
}

// ParseScope parses a scope triple. All three components must be non-empty.
func ParseScope(v any) *Scope {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	tenant, ok := reqID(m, "tenantId")
	if !ok {
		return nil
	}
	user, ok := reqID(m, "userId")
	if !ok {
		return nil
	}
	workspace, ok := reqID(m, "workspaceId")
	if !ok {
		return nil
	}
	return &Scope{TenantID: tenant, UserID: user, WorkspaceID: workspace}
}

// ParseDirectory parses a directory record.
func ParseDirectory(v any) *Directory {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "directoryId")
	if !ok {
		return nil
	}
	scope := ParseScope(m["scope"])
	if scope == nil {
		return nil
	}
	path, ok := reqID(m, "path")
	if !ok {
		return nil
	}
	createdAt, ok := optString(m, "createdAt")
	if !ok {
		return nil
	}
	archivedAt, ok := optString(m, "archivedAt")
	if !ok {
		return nil
	}
	return &Directory{
		DirectoryID: id,
		Scope:       *scope,
		Path:        path,
		CreatedAt:   createdAt,
		ArchivedAt:  archivedAt,
	}
}

// ParseRepository parses a repository record. metadata.homePriority must be a
// non-negative integer when present.
func ParseRepository(v any) *Repository {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "repositoryId")
	if !ok {
		return nil
	}
	scope := ParseScope(m["scope"])
	if scope == nil {
		return nil
	}
	name, ok := reqString(m, "name")
	if !ok {
		return nil
	}
	remoteURL, ok := reqString(m, "remoteUrl")
	if !ok {
		return nil
	}
	defaultBranch, ok := reqString(m, "defaultBranch")
	if !ok {
		return nil
	}

	var meta RepositoryMetadata
	if mv, present := m["metadata"]; present && mv != nil {
		mm, ok := asMap(mv)
		if !ok {
			return nil
		}
		prio, ok := optInt(mm, "homePriority")
		if !ok {
			return nil
		}
		if prio != nil && *prio < 0 {
			return nil
		}
		meta.HomePriority = prio
	}

	createdAt, ok := optString(m, "createdAt")
	if !ok {
		return nil
	}
	archivedAt, ok := optString(m, "archivedAt")
	if !ok {
		return nil
	}
	return &Repository{
		RepositoryID:  id,
		Scope:         *scope,
		Name:          name,
		RemoteURL:     remoteURL,
		DefaultBranch: defaultBranch,
		Metadata:      meta,
		CreatedAt:     createdAt,
		ArchivedAt:    archivedAt,
	}
}

func parseTaskStatus(v any) (TaskStatus, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if s == legacyTaskQueued {
		return TaskReady, true
	}
	switch TaskStatus(s) {
	case TaskDraft, TaskReady, TaskInProgress, TaskCompleted:
		return TaskStatus(s), true
	default:
		return "", false
	}
}

// ParseTask parses a task record. The legacy "queued" status normalizes to
// "ready"; a missing scopeKind is inferred from projectId/repositoryId.
func ParseTask(v any) *Task {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "taskId")
	if !ok {
		return nil
	}
	scope := ParseScope(m["scope"])
	if scope == nil {
		return nil
	}
	repositoryID, ok := optString(m, "repositoryId")
	if !ok {
		return nil
	}
	projectID, ok := optString(m, "projectId")
	if !ok {
		return nil
	}

	var scopeKind TaskScopeKind
	if sv, present := m["scopeKind"]; present && sv != nil {
		s, ok := sv.(string)
		if !ok {
			return nil
		}
		switch TaskScopeKind(s) {
		case TaskScopeGlobal, TaskScopeRepository, TaskScopeProject:
			scopeKind = TaskScopeKind(s)
		default:
			return nil
		}
	} else {
		switch {
		case projectID != nil:
			scopeKind = TaskScopeProject
		case repositoryID != nil:
			scopeKind = TaskScopeRepository
		default:
			scopeKind = TaskScopeGlobal
		}
	}

	title, ok := reqString(m, "title")
	if !ok {
		return nil
	}
	body, ok := reqString(m, "body")
	if !ok {
		return nil
	}
	statusVal, present := m["status"]
	if !present {
		return nil
	}
	status, ok := parseTaskStatus(statusVal)
	if !ok {
		return nil
	}
	orderIndex, ok := reqInt(m, "orderIndex")
	if !ok {
		return nil
	}

	var claimedBy []string
	if cv, present := m["claimedBy"]; present && cv != nil {
		list, ok := cv.([]any)
		if !ok {
			return nil
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			claimedBy = append(claimedBy, s)
		}
	}

	branchName, ok := optString(m, "branchName")
	if !ok {
		return nil
	}
	baseBranch, ok := optString(m, "baseBranch")
	if !ok {
		return nil
	}
	claimedAt, ok := optString(m, "claimedAt")
	if !ok {
		return nil
	}
	completedAt, ok := optString(m, "completedAt")
	if !ok {
		return nil
	}
	createdAt, ok := reqString(m, "createdAt")
	if !ok {
		return nil
	}
	updatedAt, ok := reqString(m, "updatedAt")
	if !ok {
		return nil
	}

	return &Task{
		TaskID:       id,
		Scope:        *scope,
		RepositoryID: repositoryID,
		ProjectID:    projectID,
		ScopeKind:    scopeKind,
		Title:        title,
		Body:         body,
		Status:       status,
		OrderIndex:   orderIndex,
		ClaimedBy:    claimedBy,
		BranchName:   branchName,
		BaseBranch:   baseBranch,
		ClaimedAt:    claimedAt,
		CompletedAt:  completedAt,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}

// ParseStatusModel parses a heuristic status model.
func ParseStatusModel(v any) *StatusModel {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	phaseStr, ok := reqString(m, "phase")
	if !ok {
		return nil
	}
	switch Phase(phaseStr) {
	case PhaseIdle, PhaseThinking, PhaseWorking, PhaseNeedsInput, PhaseExited:
	default:
		return nil
	}
	hint, ok := optString(m, "activityHint")
	if !ok {
		return nil
	}
	reason, ok := optString(m, "attentionReason")
	if !ok {
		return nil
	}
	return &StatusModel{Phase: Phase(phaseStr), ActivityHint: hint, AttentionReason: reason}
}

// ParseConversation parses a conversation record.
func ParseConversation(v any) *Conversation {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "conversationId")
	if !ok {
		return nil
	}
	directoryID, ok := reqID(m, "directoryId")
	if !ok {
		return nil
	}
	scope := ParseScope(m["scope"])
	if scope == nil {
		return nil
	}
	title, ok := reqString(m, "title")
	if !ok {
		return nil
	}
	agentType, ok := reqID(m, "agentType")
	if !ok {
		return nil
	}

	adapterState := map[string]any{}
	if av, present := m["adapterState"]; present && av != nil {
		am, ok := asMap(av)
		if !ok {
			return nil
		}
		adapterState = am
	}

	statusStr, ok := reqString(m, "runtimeStatus")
	if !ok {
		return nil
	}
	switch RuntimeStatus(statusStr) {
	case RuntimeRunning, RuntimeNeedsInput, RuntimeCompleted, RuntimeExited:
	default:
		return nil
	}

	var statusModel *StatusModel
	if sv, present := m["runtimeStatusModel"]; present && sv != nil {
		statusModel = ParseStatusModel(sv)
		if statusModel == nil {
			return nil
		}
	}

	live, ok := optBool(m, "runtimeLive", false)
	if !ok {
		return nil
	}

	return &Conversation{
		ConversationID:     id,
		DirectoryID:        directoryID,
		Scope:              *scope,
		Title:              title,
		AgentType:          agentType,
		AdapterState:       adapterState,
		RuntimeStatus:      RuntimeStatus(statusStr),
		RuntimeStatusModel: statusModel,
		RuntimeLive:        live,
	}
}

// ParseController parses a controller record.
func ParseController(v any) *Controller {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "controllerId")
	if !ok {
		return nil
	}
	typeStr, ok := reqString(m, "controllerType")
	if !ok {
		return nil
	}
	switch ControllerType(typeStr) {
	case ControllerHuman, ControllerAgent, ControllerAutomation:
	default:
		return nil
	}
	label, ok := optString(m, "controllerLabel")
	if !ok {
		return nil
	}
	claimedAt, ok := reqString(m, "claimedAt")
	if !ok {
		return nil
	}
	return &Controller{
		ControllerID:    id,
		ControllerType:  ControllerType(typeStr),
		ControllerLabel: label,
		ClaimedAt:       claimedAt,
	}
}

// ParseLastExit parses a process exit descriptor.
func ParseLastExit(v any) *LastExit {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	code, ok := optInt(m, "code")
	if !ok {
		return nil
	}
	signal, ok := optString(m, "signal")
	if !ok {
		return nil
	}
	return &LastExit{Code: code, Signal: signal}
}

// ParseSession parses a live session view.
func ParseSession(v any) *Session {
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	id, ok := reqID(m, "sessionId")
	if !ok {
		return nil
	}
	scope := ParseScope(m["scope"])
	if scope == nil {
		return nil
	}
	worktreeID, ok := optString(m, "worktreeId")
	if !ok {
		return nil
	}
	statusStr, ok := reqString(m, "status")
	if !ok {
		return nil
	}
	switch RuntimeStatus(statusStr) {
	case RuntimeRunning, RuntimeNeedsInput, RuntimeCompleted, RuntimeExited:
	default:
		return nil
	}
	statusModel := ParseStatusModel(m["statusModel"])
	if statusModel == nil {
		return nil
	}
	cursorVal, present := m["latestCursor"]
	if !present {
		return nil
	}
	cursor, ok := uint64FromAny(cursorVal)
	if !ok {
		return nil
	}
	processID, ok := optInt(m, "processId")
	if !ok {
		return nil
	}
	attached, ok := reqInt(m, "attachedClients")
	if !ok || attached < 0 {
		return nil
	}
	subs, ok := reqInt(m, "eventSubscribers")
	if !ok || subs < 0 {
		return nil
	}
	startedAt, ok := reqString(m, "startedAt")
	if !ok {
		return nil
	}
	lastEventAt, ok := optString(m, "lastEventAt")
	if !ok {
		return nil
	}

	var lastExit *LastExit
	if lv, present := m["lastExit"]; present && lv != nil {
		lastExit = ParseLastExit(lv)
		if lastExit == nil {
			return nil
		}
	}

	exitedAt, ok := optString(m, "exitedAt")
	if !ok {
		return nil
	}
	live, ok := optBool(m, "live", false)
	if !ok {
		return nil
	}

	launchVal, present := m["launchCommand"]
	if !present {
		return nil
	}
	launchList, ok := launchVal.([]any)
	if !ok {
		return nil
	}
	launchCommand := make([]string, 0, len(launchList))
	for _, item := range launchList {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		launchCommand = append(launchCommand, s)
	}

	var controller *Controller
	if cv, present := m["controller"]; present && cv != nil {
		controller = ParseController(cv)
		if controller == nil {
			return nil
		}
	}

	var telemetry *SessionTelemetry
	if tv, present := m["telemetry"]; present && tv != nil {
		tm, ok := asMap(tv)
		if !ok {
			return nil
		}
		written, ok1 := uint64FromAny(tm["bytesWritten"])
		chunks, ok2 := uint64FromAny(tm["outputChunks"])
		dropped, ok3 := uint64FromAny(tm["droppedWrites"])
		if !ok1 || !ok2 || !ok3 {
			return nil
		}
		telemetry = &SessionTelemetry{BytesWritten: written, OutputChunks: chunks, DroppedWrites: dropped}
	}

	return &Session{
		SessionID:       id,
		Scope:           *scope,
		WorktreeID:      worktreeID,
		Status:          RuntimeStatus(statusStr),
		StatusModel:     *statusModel,
		LatestCursor:    cursor,
		ProcessID:       processID,
		AttachedClients: attached,
		EventSubs:       subs,
		StartedAt:       startedAt,
		LastEventAt:     lastEventAt,
		LastExit:        lastExit,
		ExitedAt:        exitedAt,
		Live:            live,
		LaunchCommand:   launchCommand,
		Controller:      controller,
		Telemetry:       telemetry,
	}
}
