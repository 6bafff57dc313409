package engine

import (
	"encoding/json"
	"fmt"
)

// DeploymentType identifies the deployment technology of a phase.
// It is fixed once a phase is created; changing it requires regeneration.
type DeploymentType string

const (
	DeploymentSSH           DeploymentType = "SSH"
	DeploymentECS           DeploymentType = "ECS"
	DeploymentKubernetes    DeploymentType = "KUBERNETES"
	DeploymentHelm          DeploymentType = "HELM"
	DeploymentAWSCodeDeploy DeploymentType = "AWS_CODEDEPLOY"
	DeploymentAWSLambda     DeploymentType = "AWS_LAMBDA"
	DeploymentAMI           DeploymentType = "AMI"
	DeploymentPCF           DeploymentType = "PCF"
)

// Validate checks if the deployment type is valid.
func (d DeploymentType) Validate() error {
	switch d {
	case DeploymentSSH, DeploymentECS, DeploymentKubernetes, DeploymentHelm,
		DeploymentAWSCodeDeploy, DeploymentAWSLambda, DeploymentAMI, DeploymentPCF:
		return nil
	default:
		return fmt.Errorf("invalid deployment type: %s", d)
	}
}

// IsContainer returns true for the container platform deployment types.
func (d DeploymentType) IsContainer() bool {
	return d == DeploymentECS || d == DeploymentKubernetes || d == DeploymentHelm || d == DeploymentPCF
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (d DeploymentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (d *DeploymentType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*d = DeploymentType(str)
	return d.Validate()
}

// OrchestrationWorkflowType is the topology of a workflow.
type OrchestrationWorkflowType string

const (
	TopologyBasic        OrchestrationWorkflowType = "BASIC"
	TopologyRolling      OrchestrationWorkflowType = "ROLLING"
	TopologyCanary       OrchestrationWorkflowType = "CANARY"
	TopologyMultiService OrchestrationWorkflowType = "MULTI_SERVICE"
	TopologyBlueGreen    OrchestrationWorkflowType = "BLUE_GREEN"
	TopologyBuild        OrchestrationWorkflowType = "BUILD"
	TopologyCustom       OrchestrationWorkflowType = "CUSTOM"

	// AnyTopology matches every topology in the template dispatch table.
	AnyTopology OrchestrationWorkflowType = "*"
)

// Validate checks if the topology is valid.
func (t OrchestrationWorkflowType) Validate() error {
	switch t {
	case TopologyBasic, TopologyRolling, TopologyCanary, TopologyMultiService,
		TopologyBlueGreen, TopologyBuild, TopologyCustom:
		return nil
	default:
		return fmt.Errorf("invalid workflow topology: %s", t)
	}
}

// PhaseStepType names the slot a phase-step occupies within a phase.
type PhaseStepType string

const (
	PhaseStepPreDeployment        PhaseStepType = "PRE_DEPLOYMENT"
	PhaseStepPostDeployment       PhaseStepType = "POST_DEPLOYMENT"
	PhaseStepRollbackProvisioners PhaseStepType = "ROLLBACK_PROVISIONERS"

	PhaseStepSelectNodes     PhaseStepType = "SELECT_NODES"
	PhaseStepClusterSetup    PhaseStepType = "CLUSTER_SETUP"
	PhaseStepContainerSetup  PhaseStepType = "CONTAINER_SETUP"
	PhaseStepContainerDeploy PhaseStepType = "CONTAINER_DEPLOY"
	PhaseStepScale           PhaseStepType = "SCALE"

	PhaseStepDisableService PhaseStepType = "DISABLE_SERVICE"
	PhaseStepDeployService  PhaseStepType = "DEPLOY_SERVICE"
	PhaseStepEnableService  PhaseStepType = "ENABLE_SERVICE"
	PhaseStepStopService    PhaseStepType = "STOP_SERVICE"
	PhaseStepVerifyService  PhaseStepType = "VERIFY_SERVICE"
	PhaseStepWrapUp         PhaseStepType = "WRAP_UP"

	PhaseStepPrepareSteps        PhaseStepType = "PREPARE_STEPS"
	PhaseStepDeployAWSCodeDeploy PhaseStepType = "DEPLOY_AWSCODEDEPLOY"
	PhaseStepDeployAWSLambda     PhaseStepType = "DEPLOY_AWS_LAMBDA"

	PhaseStepAMIAutoScalingGroupSetup PhaseStepType = "AMI_AUTOSCALING_GROUP_SETUP"
	PhaseStepAMIDeployAutoScaling     PhaseStepType = "AMI_DEPLOY_AUTOSCALING_GROUP"
	PhaseStepAMISwitchRoutes          PhaseStepType = "AMI_SWITCH_AUTOSCALING_GROUP_ROUTES"

	PhaseStepECSUpdateListenerBG       PhaseStepType = "ECS_UPDATE_LISTENER_BG"
	PhaseStepECSUpdateRoute53DNSWeight PhaseStepType = "ECS_UPDATE_ROUTE_53_DNS_WEIGHT"
	PhaseStepRouteUpdate               PhaseStepType = "ROUTE_UPDATE"

	PhaseStepPCFSetup        PhaseStepType = "PCF_SETUP"
	PhaseStepPCFResize       PhaseStepType = "PCF_RESIZE"
	PhaseStepPCFSwitchRoutes PhaseStepType = "PCF_SWITCH_ROUTES"
	PhaseStepHelmDeploy      PhaseStepType = "HELM_DEPLOY"
)

var phaseStepDisplayNames = map[PhaseStepType]string{
	PhaseStepPreDeployment:             "Pre-Deployment",
	PhaseStepPostDeployment:            "Post-Deployment",
	PhaseStepRollbackProvisioners:      "Rollback Provisioners",
	PhaseStepSelectNodes:               "Select Nodes",
	PhaseStepClusterSetup:              "Cluster Setup",
	PhaseStepContainerSetup:            "Setup Container",
	PhaseStepContainerDeploy:           "Deploy Containers",
	PhaseStepScale:                     "Scale",
	PhaseStepDisableService:            "Disable Service",
	PhaseStepDeployService:             "Deploy Service",
	PhaseStepEnableService:             "Enable Service",
	PhaseStepStopService:               "Stop Service",
	PhaseStepVerifyService:             "Verify Service",
	PhaseStepWrapUp:                    "Wrap Up",
	PhaseStepPrepareSteps:              "Prepare Steps",
	PhaseStepDeployAWSCodeDeploy:       "Deploy Service",
	PhaseStepDeployAWSLambda:           "Deploy Service",
	PhaseStepAMIAutoScalingGroupSetup:  "Setup AutoScaling Group",
	PhaseStepAMIDeployAutoScaling:      "Deploy Service",
	PhaseStepAMISwitchRoutes:           "Switch AutoScaling Group Route",
	PhaseStepECSUpdateListenerBG:       "Swap Target Groups",
	PhaseStepECSUpdateRoute53DNSWeight: "Swap Routes",
	PhaseStepRouteUpdate:               "Route Update",
	PhaseStepPCFSetup:                  "App Setup",
	PhaseStepPCFResize:                 "App Resize",
	PhaseStepPCFSwitchRoutes:           "Swap Routes",
	PhaseStepHelmDeploy:                "Helm Deploy",
}

// DisplayName returns the default name of the slot.
func (t PhaseStepType) DisplayName() string {
	if name, ok := phaseStepDisplayNames[t]; ok {
		return name
	}
	return string(t)
}

// Validate checks if the phase-step type is valid.
func (t PhaseStepType) Validate() error {
	if _, ok := phaseStepDisplayNames[t]; !ok {
		return fmt.Errorf("invalid phase step type: %s", t)
	}
	return nil
}

// Variant selects between the shapes a deployment type can take within one topology.
type Variant string

const (
	VariantStandard         Variant = "STANDARD"
	VariantBlueGreen        Variant = "BLUE_GREEN"
	VariantBlueGreenRoute53 Variant = "BLUE_GREEN_ROUTE53"
	VariantCanary           Variant = "CANARY"
)

// IsBlueGreen returns true for both blue/green variants.
func (v Variant) IsBlueGreen() bool {
	return v == VariantBlueGreen || v == VariantBlueGreenRoute53
}

// Validate checks if the variant is valid.
func (v Variant) Validate() error {
	switch v {
	case VariantStandard, VariantBlueGreen, VariantBlueGreenRoute53, VariantCanary:
		return nil
	default:
		return fmt.Errorf("invalid variant: %s", v)
	}
}

// ResolveVariant derives the variant of a phase from the workflow topology
// and the infrastructure it deploys to.
func ResolveVariant(topology OrchestrationWorkflowType, deploymentType DeploymentType, infra *InfraTarget) Variant {
	switch topology {
	case TopologyBlueGreen:
		if deploymentType == DeploymentECS && infra != nil && infra.DNSRouting {
			return VariantBlueGreenRoute53
		}
		return VariantBlueGreen
	case TopologyCanary:
		if deploymentType == DeploymentKubernetes {
			return VariantCanary
		}
	}
	return VariantStandard
}

// Properties is the property bag of a step.
type Properties map[string]interface{}

// Clone returns a deep copy of the properties.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Properties:
		return val.Clone()
	case map[string]interface{}:
		return Properties(val).Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// TemplateRef links a step to the step template it was created from.
type TemplateRef struct {
	// UUID is the template identifier.
	UUID string `json:"uuid"`

	// Version is the template version the step was created with.
	Version string `json:"version,omitempty"`

	// Variables are the template inputs bound to this step.
	Variables map[string]string `json:"variables,omitempty"`
}

// Step is the smallest executable unit: an action tag plus a property bag.
type Step struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Name       string       `json:"name"`
	Properties Properties   `json:"properties,omitempty"`
	Rollback   bool         `json:"rollback"`
	Template   *TemplateRef `json:"template,omitempty"`
}

// PhaseStep is a named slot within a phase holding an ordered list of steps.
type PhaseStep struct {
	// ID is the unique identifier of the phase-step.
	ID string `json:"id"`

	// Type is the slot this phase-step occupies.
	Type PhaseStepType `json:"type"`

	// Name is the display name.
	Name string `json:"name"`

	// Steps are executed in order.
	Steps []*Step `json:"steps"`

	// Rollback is true for phase-steps of a rollback phase.
	Rollback bool `json:"rollback"`

	// RollbackGuardStepType is the forward slot this rollback phase-step reverses.
	RollbackGuardStepType PhaseStepType `json:"rollbackGuardStepType,omitempty"`

	// RollbackGuardStepID is the ID of the forward phase-step this one depends on.
	RollbackGuardStepID string `json:"rollbackGuardStepId,omitempty"`

	// RollbackGuardStatus is the status the forward phase-step must have
	// reached for this rollback phase-step to run.
	RollbackGuardStatus ExecutionStatus `json:"rollbackGuardStatus,omitempty"`

	// FailureStrategies override the workflow strategies for states in this phase-step.
	FailureStrategies []FailureStrategy `json:"failureStrategies,omitempty"`
}

// HasStepType returns true if any step carries the given action tag.
func (ps *PhaseStep) HasStepType(tag string) bool {
	if ps == nil {
		return false
	}
	for _, s := range ps.Steps {
		if s.Type == tag {
			return true
		}
	}
	return false
}

// WorkflowPhase is one deployment unit scoped to a service and an infrastructure target.
type WorkflowPhase struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	ServiceID         string         `json:"serviceId"`
	InfraTargetID     string         `json:"infraTargetId"`
	ComputeProviderID string         `json:"computeProviderId,omitempty"`
	DeploymentType    DeploymentType `json:"deploymentType"`
	Variant           Variant        `json:"variant"`

	// Rollback is true for a synthesized rollback phase.
	Rollback bool `json:"rollback"`

	// RollbackOfPhaseID is the ID of the forward phase a rollback phase reverses.
	RollbackOfPhaseID string `json:"rollbackOfPhaseId,omitempty"`

	// RollbackOfPhaseName is the forward phase name at synthesis time, kept for display.
	RollbackOfPhaseName string `json:"rollbackOfPhaseName,omitempty"`

	// DaemonSet records that the service is scheduled as a daemon.
	DaemonSet bool `json:"daemonSet,omitempty"`

	// StatefulSet records that the service is deployed as a stateful set.
	StatefulSet bool `json:"statefulSet,omitempty"`

	PhaseSteps []*PhaseStep `json:"phaseSteps"`
}

// PhaseStepByType returns the first phase-step occupying the given slot.
func (p *WorkflowPhase) PhaseStepByType(t PhaseStepType) *PhaseStep {
	for _, ps := range p.PhaseSteps {
		if ps.Type == t {
			return ps
		}
	}
	return nil
}

// FailureStrategy configures the response to a failed state.
type FailureStrategy struct {
	FailureTypes               []FailureType    `json:"failureTypes,omitempty"`
	RepairActionCode           RepairActionCode `json:"repairActionCode"`
	RetryCount                 int              `json:"retryCount,omitempty"`
	RetryIntervals             []int            `json:"retryIntervals,omitempty"`
	RepairActionCodeAfterRetry RepairActionCode `json:"repairActionCodeAfterRetry,omitempty"`
	ExecutionScope             ExecutionScope   `json:"executionScope,omitempty"`

	// SpecificSteps restricts the strategy to states with these names.
	SpecificSteps []string `json:"specificSteps,omitempty"`
}

// Validate checks the strategy configuration.
// A RETRY strategy must not fall back to RETRY once its budget is exhausted.
func (s FailureStrategy) Validate() error {
	if err := s.RepairActionCode.Validate(); err != nil {
		return err
	}
	for _, ft := range s.FailureTypes {
		if err := ft.Validate(); err != nil {
			return err
		}
	}
	if s.ExecutionScope != "" {
		if err := s.ExecutionScope.Validate(); err != nil {
			return err
		}
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("retry count must not be negative: %d", s.RetryCount)
	}
	for _, interval := range s.RetryIntervals {
		if interval < 0 {
			return fmt.Errorf("retry interval must not be negative: %d", interval)
		}
	}
	if s.RepairActionCode == RepairRetry {
		if s.RepairActionCodeAfterRetry == RepairRetry {
			return fmt.Errorf("repair action after retry must not be %s", RepairRetry)
		}
		if s.RepairActionCodeAfterRetry != "" {
			if err := s.RepairActionCodeAfterRetry.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// NotificationRule selects who is notified when a phase reaches a status.
type NotificationRule struct {
	Conditions     []ExecutionStatus `json:"conditions"`
	ExecutionScope ExecutionScope    `json:"executionScope"`
	UserGroupIDs   []string          `json:"userGroupIds,omitempty"`
}

// Matches returns true if the rule fires for the given status.
func (r NotificationRule) Matches(scope ExecutionScope, status ExecutionStatus) bool {
	if r.ExecutionScope != scope {
		return false
	}
	for _, c := range r.Conditions {
		if c == status {
			return true
		}
	}
	return false
}

// ExecutionEvent is one status transition reported by the executor.
type ExecutionEvent struct {
	// ExecutionID identifies the workflow execution.
	ExecutionID string `json:"executionId"`

	// StateID is the ID of the phase, phase-step or step the event is for.
	StateID string `json:"stateId"`

	// ParentStateID is the ID of the enclosing phase-step, if any.
	ParentStateID string `json:"parentStateId,omitempty"`

	// PhaseID is the ID of the enclosing phase, if any.
	PhaseID string `json:"phaseId,omitempty"`

	StateName string          `json:"stateName,omitempty"`
	StateType StateType       `json:"stateType"`
	Status    ExecutionStatus `json:"status"`

	// FailureTypes classify a FAILED or ERROR status.
	FailureTypes []FailureType `json:"failureTypes,omitempty"`

	// DisplayName is the runtime name of a phase, e.g. "Rolling Phase 2".
	DisplayName string `json:"displayName,omitempty"`

	// ExecutedPhaseIDs lists the forward phases run so far, in order.
	ExecutedPhaseIDs []string `json:"executedPhaseIds,omitempty"`

	// StateData is the execution data the state produced.
	StateData map[string]interface{} `json:"stateData,omitempty"`

	// Workflow is the aggregate snapshot the execution runs against.
	Workflow *OrchestrationWorkflow `json:"-"`
}

// ExecutionEventAdvice tells the executor what to do next.
type ExecutionEventAdvice struct {
	InterruptType ExecutionInterruptType `json:"interruptType"`

	// NextStateName is the state to transition to for ROLLBACK and NEXT_STEP.
	NextStateName string `json:"nextStateName,omitempty"`

	// NextStateDisplayName is the runtime name of the next state.
	NextStateDisplayName string `json:"nextStateDisplayName,omitempty"`

	// RollbackPhaseName is set when the advice starts or continues a rollback.
	RollbackPhaseName string `json:"rollbackPhaseName,omitempty"`

	// WaitIntervalSeconds is the delay before a RETRY.
	WaitIntervalSeconds int `json:"waitIntervalSeconds,omitempty"`

	// StateParams are the captured parameters of a paused state.
	StateParams map[string]interface{} `json:"stateParams,omitempty"`

	// RequestedInterrupt asks the caller to raise an execution interrupt.
	RequestedInterrupt ExecutionInterruptType `json:"requestedInterrupt,omitempty"`
}

// ServiceCommands holds the command units of a service grouped by purpose.
type ServiceCommands struct {
	Install []string `json:"install,omitempty" yaml:"install,omitempty"`
	Disable []string `json:"disable,omitempty" yaml:"disable,omitempty"`
	Enable  []string `json:"enable,omitempty" yaml:"enable,omitempty"`
	Stop    []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	Verify  []string `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// ServiceSpec is the read-only view of a service used to shape templates.
type ServiceSpec struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	ArtifactType   string          `json:"artifactType" yaml:"artifactType"`
	DeploymentType DeploymentType  `json:"deploymentType" yaml:"deploymentType"`
	Commands       ServiceCommands `json:"commands,omitempty" yaml:"commands,omitempty"`

	// SchedulingStrategy is the structured ECS scheduling strategy, e.g. DAEMON.
	SchedulingStrategy string `json:"schedulingStrategy,omitempty" yaml:"schedulingStrategy,omitempty"`

	// ServiceSpecJSON is the raw ECS service specification, if one is supplied.
	ServiceSpecJSON string `json:"serviceSpecJson,omitempty" yaml:"serviceSpecJson,omitempty"`

	DaemonSet   bool `json:"daemonSet,omitempty" yaml:"daemonSet,omitempty"`
	StatefulSet bool `json:"statefulSet,omitempty" yaml:"statefulSet,omitempty"`

	// ArtifactStreams lists the artifact stream types, e.g. AMAZON_S3.
	ArtifactStreams []string `json:"artifactStreams,omitempty" yaml:"artifactStreams,omitempty"`
}

// HasArtifactStream returns true if the service has a stream of the given type.
func (s *ServiceSpec) HasArtifactStream(streamType string) bool {
	for _, t := range s.ArtifactStreams {
		if t == streamType {
			return true
		}
	}
	return false
}

// ArtifactStreamS3 is the artifact stream type of an S3 bucket.
const ArtifactStreamS3 = "AMAZON_S3"

// Infrastructure mapping types.
const (
	InfraAWSECS             = "AWS_ECS"
	InfraDirectKubernetes   = "DIRECT_KUBERNETES"
	InfraGCPKubernetes      = "GCP_KUBERNETES"
	InfraAzureKubernetes    = "AZURE_KUBERNETES"
	InfraPCF                = "PCF_PCF"
	InfraAWSAMI             = "AWS_AMI"
	InfraAWSSSH             = "AWS_SSH"
	InfraPhysicalDataCenter = "PHYSICAL_DATA_CENTER_SSH"
	InfraAWSLambda          = "AWS_AWS_LAMBDA"
	InfraAWSCodeDeploy      = "AWS_AWS_CODEDEPLOY"
)

// RuntimeClusterName marks a Kubernetes cluster that is provisioned by the workflow.
const RuntimeClusterName = "RUNTIME"

// InfraTarget is the read-only view of an infrastructure mapping.
type InfraTarget struct {
	ID                string `json:"id" yaml:"id"`
	Type              string `json:"type" yaml:"type"`
	ComputeProviderID string `json:"computeProviderId" yaml:"computeProviderId"`
	LoadBalancerID    string `json:"loadBalancerId,omitempty" yaml:"loadBalancerId,omitempty"`
	ClusterName       string `json:"clusterName,omitempty" yaml:"clusterName,omitempty"`

	// DNSRouting is true when blue/green traffic is shifted with DNS weights.
	DNSRouting bool `json:"dnsRouting,omitempty" yaml:"dnsRouting,omitempty"`
}
