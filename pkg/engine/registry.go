package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Step action tags.
const (
	StepECSServiceSetup           = "ECS_SERVICE_SETUP"
	StepECSDaemonServiceSetup     = "ECS_DAEMON_SERVICE_SETUP"
	StepECSServiceDeploy          = "ECS_SERVICE_DEPLOY"
	StepECSBGServiceSetup         = "ECS_BG_SERVICE_SETUP"
	StepECSBGServiceSetupRoute53  = "ECS_BG_SERVICE_SETUP_ROUTE53"
	StepECSListenerUpdate         = "ECS_LISTENER_UPDATE"
	StepECSRoute53DNSWeightUpdate = "ECS_ROUTE53_DNS_WEIGHT_UPDATE"

	StepGCPClusterSetup                = "GCP_CLUSTER_SETUP"
	StepKubernetesSetup                = "KUBERNETES_SETUP"
	StepKubernetesDeploy               = "KUBERNETES_DEPLOY"
	StepKubernetesScale                = "KUBERNETES_SCALE"
	StepKubernetesSwapServiceSelectors = "KUBERNETES_SWAP_SERVICE_SELECTORS"
	StepHelmDeploy                     = "HELM_DEPLOY"

	StepPCFSetup      = "PCF_SETUP"
	StepPCFResize     = "PCF_RESIZE"
	StepPCFBGMapRoute = "PCF_BG_MAP_ROUTE"

	StepAWSAMIServiceSetup  = "AWS_AMI_SERVICE_SETUP"
	StepAWSAMIServiceDeploy = "AWS_AMI_SERVICE_DEPLOY"
	StepAWSAMISwitchRoutes  = "AWS_AMI_SWITCH_ROUTES"
	StepAWSLambdaState      = "AWS_LAMBDA_STATE"
	StepAWSCodeDeployState  = "AWS_CODEDEPLOY_STATE"

	StepRollingNodeSelect   = "ROLLING_NODE_SELECT"
	StepDCNodeSelect        = "DC_NODE_SELECT"
	StepAWSNodeSelect       = "AWS_NODE_SELECT"
	StepElasticLoadBalancer = "ELASTIC_LOAD_BALANCER"
	StepCommand             = "COMMAND"

	StepArtifactCheck             = "ARTIFACT_CHECK"
	StepCloudFormationCreateStack = "CLOUD_FORMATION_CREATE_STACK"
	StepTerraformProvision        = "TERRAFORM_PROVISION"
)

// Rollback action tags.
const (
	StepECSServiceSetupRollback           = "ECS_SERVICE_SETUP_ROLLBACK"
	StepECSServiceRollback                = "ECS_SERVICE_ROLLBACK"
	StepECSListenerUpdateRollback         = "ECS_LISTENER_UPDATE_ROLLBACK"
	StepECSRoute53DNSWeightUpdateRollback = "ECS_ROUTE53_DNS_WEIGHT_UPDATE_ROLLBACK"
	StepKubernetesDeployRollback          = "KUBERNETES_DEPLOY_ROLLBACK"
	StepKubernetesSetupRollback           = "KUBERNETES_SETUP_ROLLBACK"
	StepHelmRollback                      = "HELM_ROLLBACK"
	StepPCFRollback                       = "PCF_ROLLBACK"
	StepAWSAMIServiceRollback             = "AWS_AMI_SERVICE_ROLLBACK"
	StepAWSAMIRollbackSwitchRoutes        = "AWS_AMI_ROLLBACK_SWITCH_ROUTES"
	StepAWSLambdaRollback                 = "AWS_LAMBDA_ROLLBACK"
	StepAWSCodeDeployRollback             = "AWS_CODEDEPLOY_ROLLBACK"
	StepCloudFormationRollbackStack       = "CLOUD_FORMATION_ROLLBACK_STACK"
	StepTerraformRollback                 = "TERRAFORM_ROLLBACK"
)

// StepTypeDescriptor describes one step action tag.
type StepTypeDescriptor struct {
	// Tag is the action tag.
	Tag string

	// DisplayName is the default step name.
	DisplayName string

	// DefaultProperties are copied into every step created with this tag.
	DefaultProperties Properties

	// RollbackTag is the tag that reverses this action, if any.
	RollbackTag string
}

// StepTypeRegistry is an immutable set of step descriptors keyed by tag.
// Build it once with NewStepTypeRegistry and share it by reference.
type StepTypeRegistry struct {
	descriptors map[string]StepTypeDescriptor
}

// NewStepTypeRegistry creates a registry with the built-in descriptors plus any extra ones.
// Extra descriptors replace built-in ones with the same tag.
func NewStepTypeRegistry(extra ...StepTypeDescriptor) *StepTypeRegistry {
	r := &StepTypeRegistry{descriptors: make(map[string]StepTypeDescriptor)}
	for _, d := range builtinStepTypes() {
		r.descriptors[d.Tag] = d
	}
	for _, d := range extra {
		r.descriptors[d.Tag] = d
	}
	return r
}

// Lookup returns the descriptor for a tag.
func (r *StepTypeRegistry) Lookup(tag string) (StepTypeDescriptor, bool) {
	d, ok := r.descriptors[tag]
	if !ok {
		return StepTypeDescriptor{}, false
	}
	d.DefaultProperties = d.DefaultProperties.Clone()
	return d, true
}

// Tags returns all registered tags in sorted order.
func (r *StepTypeRegistry) Tags() []string {
	tags := make([]string, 0, len(r.descriptors))
	for tag := range r.descriptors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// NewStep creates a step for a registered tag. Defaults are deep-copied and
// then overlaid with props. An empty name falls back to the descriptor's name.
func (r *StepTypeRegistry) NewStep(tag, name string, props Properties, rollback bool) (*Step, error) {
	d, ok := r.descriptors[tag]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("unknown step type: %s", tag), nil).
			WithResource(tag)
	}
	merged := d.DefaultProperties.Clone()
	if merged == nil {
		merged = make(Properties)
	}
	for k, v := range props {
		merged[k] = cloneValue(v)
	}
	if name == "" {
		name = d.DisplayName
	}
	return &Step{
		ID:         uuid.New().String(),
		Type:       tag,
		Name:       name,
		Properties: merged,
		Rollback:   rollback,
	}, nil
}

func builtinStepTypes() []StepTypeDescriptor {
	return []StepTypeDescriptor{
		{Tag: StepECSServiceSetup, DisplayName: "ECS Service Setup", RollbackTag: StepECSServiceSetupRollback,
			DefaultProperties: Properties{"resizeStrategy": "RESIZE_NEW_FIRST"}},
		{Tag: StepECSDaemonServiceSetup, DisplayName: "ECS Daemon Service Setup", RollbackTag: StepECSServiceSetupRollback},
		{Tag: StepECSServiceDeploy, DisplayName: "Upgrade Containers", RollbackTag: StepECSServiceRollback},
		{Tag: StepECSBGServiceSetup, DisplayName: "ECS Blue Green Service Setup", RollbackTag: StepECSServiceSetupRollback},
		{Tag: StepECSBGServiceSetupRoute53, DisplayName: "ECS Blue Green Route53 Setup", RollbackTag: StepECSServiceSetupRollback},
		{Tag: StepECSListenerUpdate, DisplayName: "Swap Target Groups", RollbackTag: StepECSListenerUpdateRollback},
		{Tag: StepECSRoute53DNSWeightUpdate, DisplayName: "Change Route 53 Weights", RollbackTag: StepECSRoute53DNSWeightUpdateRollback},

		{Tag: StepGCPClusterSetup, DisplayName: "GCP Cluster Setup"},
		{Tag: StepKubernetesSetup, DisplayName: "Kubernetes Service Setup", RollbackTag: StepKubernetesSetupRollback},
		{Tag: StepKubernetesDeploy, DisplayName: "Upgrade Containers", RollbackTag: StepKubernetesDeployRollback},
		{Tag: StepKubernetesScale, DisplayName: "Scale", RollbackTag: StepKubernetesDeployRollback},
		{Tag: StepKubernetesSwapServiceSelectors, DisplayName: "Swap Primary with Stage", RollbackTag: StepKubernetesSwapServiceSelectors},
		{Tag: StepHelmDeploy, DisplayName: "Helm Deploy", RollbackTag: StepHelmRollback},

		{Tag: StepPCFSetup, DisplayName: "App Setup"},
		{Tag: StepPCFResize, DisplayName: "Resize App", RollbackTag: StepPCFRollback},
		{Tag: StepPCFBGMapRoute, DisplayName: "Map Route", RollbackTag: StepPCFBGMapRoute},

		{Tag: StepAWSAMIServiceSetup, DisplayName: "AWS AutoScaling Group Setup"},
		{Tag: StepAWSAMIServiceDeploy, DisplayName: "Upgrade AutoScaling Group", RollbackTag: StepAWSAMIServiceRollback},
		{Tag: StepAWSAMISwitchRoutes, DisplayName: "Switch AutoScaling Group Route", RollbackTag: StepAWSAMIRollbackSwitchRoutes},
		{Tag: StepAWSLambdaState, DisplayName: "Deploy AWS Lambda", RollbackTag: StepAWSLambdaRollback},
		{Tag: StepAWSCodeDeployState, DisplayName: "AWS CodeDeploy", RollbackTag: StepAWSCodeDeployRollback},

		{Tag: StepRollingNodeSelect, DisplayName: "Select Nodes",
			DefaultProperties: Properties{"specificHosts": false, "instanceCount": 1, "excludeSelectedHostsFromFuturePhases": true}},
		{Tag: StepDCNodeSelect, DisplayName: "Select Nodes",
			DefaultProperties: Properties{"specificHosts": false, "instanceCount": 1, "excludeSelectedHostsFromFuturePhases": true}},
		{Tag: StepAWSNodeSelect, DisplayName: "Select Nodes",
			DefaultProperties: Properties{"specificHosts": false, "instanceCount": 1, "excludeSelectedHostsFromFuturePhases": true}},
		{Tag: StepElasticLoadBalancer, DisplayName: "Elastic Load Balancer"},
		{Tag: StepCommand, DisplayName: "Command"},

		{Tag: StepArtifactCheck, DisplayName: "Artifact Check"},
		{Tag: StepCloudFormationCreateStack, DisplayName: "CloudFormation Create Stack", RollbackTag: StepCloudFormationRollbackStack},
		{Tag: StepTerraformProvision, DisplayName: "Terraform Provision", RollbackTag: StepTerraformRollback},

		{Tag: StepECSServiceSetupRollback, DisplayName: "Rollback ECS Setup"},
		{Tag: StepECSServiceRollback, DisplayName: "Rollback Containers"},
		{Tag: StepECSListenerUpdateRollback, DisplayName: "Rollback ECS Listener"},
		{Tag: StepECSRoute53DNSWeightUpdateRollback, DisplayName: "Rollback Route 53 Weights"},
		{Tag: StepKubernetesDeployRollback, DisplayName: "Rollback Containers"},
		{Tag: StepKubernetesSetupRollback, DisplayName: "Rollback Kubernetes Setup"},
		{Tag: StepHelmRollback, DisplayName: "Helm Rollback"},
		{Tag: StepPCFRollback, DisplayName: "App Rollback"},
		{Tag: StepAWSAMIServiceRollback, DisplayName: "Rollback AutoScaling Group"},
		{Tag: StepAWSAMIRollbackSwitchRoutes, DisplayName: "Rollback AutoScaling Group Route"},
		{Tag: StepAWSLambdaRollback, DisplayName: "Rollback AWS Lambda"},
		{Tag: StepAWSCodeDeployRollback, DisplayName: "Rollback AWS CodeDeploy"},
		{Tag: StepCloudFormationRollbackStack, DisplayName: "CloudFormation Rollback Stack"},
		{Tag: StepTerraformRollback, DisplayName: "Terraform Rollback"},
	}
}
