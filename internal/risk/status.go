package risk

// Status 是风控状态，严重程度 safe < warning < critical < breach。
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusBreach   Status = "breach"
)

// Severity 返回 0..3 的严重程度，未知状态视为 safe。
func (s Status) Severity() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusBreach:
		return 3
	default:
		return 0
	}
}

// Escalate 返回两者中更严重的状态，状态只升不降。
func (s Status) Escalate(to Status) Status {
	if to.Severity() > s.Severity() {
		return to
	}
	return s
}

// Alerting 表示需要触发告警。
func (s Status) Alerting() bool {
	return s == StatusCritical || s == StatusBreach
}
