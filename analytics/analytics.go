package analytics

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP"

type WorkflowDataCollector interface {
	RecordNodeSuccess(workflowId string, runKey string, nodeId string, nodeType string, data map[string]any)
	RecordNodeFailure(workflowId string, runKey string, nodeId string, nodeType string, reason string)
	RecordRunCompleted(workflowId string, runKey string, status string)
}

var workflowCollector WorkflowDataCollector = noopCollector{}

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		workflowCollector = c
	default:
		workflowCollector = noopCollector{}
	}
	return nil
}

func Use(c WorkflowDataCollector) {
	workflowCollector = c
}

func RecordNodeSuccess(workflowId string, runKey string, nodeId string, nodeType string, data map[string]any) {
	workflowCollector.RecordNodeSuccess(workflowId, runKey, nodeId, nodeType, data)
}

func RecordNodeFailure(workflowId string, runKey string, nodeId string, nodeType string, reason string) {
	workflowCollector.RecordNodeFailure(workflowId, runKey, nodeId, nodeType, reason)
}

func RecordRunCompleted(workflowId string, runKey string, status string) {
	workflowCollector.RecordRunCompleted(workflowId, runKey, status)
}

type noopCollector struct{}

func (noopCollector) RecordNodeSuccess(string, string, string, string, map[string]any) {}
func (noopCollector) RecordNodeFailure(string, string, string, string, string)         {}
func (noopCollector) RecordRunCompleted(string, string, string)                        {}
