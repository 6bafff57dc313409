package engine

import "fmt"

func amiTemplate(b *slotBuilder, req TemplateRequest) error {
	blueGreen := req.Variant == VariantBlueGreen
	if req.NeedsSetup {
		b.add(PhaseStepAMIAutoScalingGroupSetup, "", stepSpec{
			tag: StepAWSAMIServiceSetup,
			props: Properties{
				"maxInstances":                  10,
				"autoScalingSteadyStateTimeout": 10,
				"blueGreen":                     blueGreen,
			},
		})
	}
	b.add(PhaseStepAMIDeployAutoScaling, "", stepSpec{tag: StepAWSAMIServiceDeploy, props: percentage(100)})
	b.add(PhaseStepVerifyService, "", verifyCommands(req)...)
	if blueGreen {
		b.add(PhaseStepAMISwitchRoutes, "", stepSpec{
			tag:   StepAWSAMISwitchRoutes,
			props: Properties{"downsizeOldAsg": true},
		})
	}
	b.add(PhaseStepWrapUp, "")
	return nil
}

func lambdaTemplate(b *slotBuilder, req TemplateRequest) error {
	b.add(PhaseStepPrepareSteps, "")
	b.add(PhaseStepDeployAWSLambda, "", stepSpec{tag: StepAWSLambdaState})
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func codeDeployTemplate(b *slotBuilder, req TemplateRequest) error {
	var props Properties
	if req.Service != nil && req.Service.HasArtifactStream(ArtifactStreamS3) {
		props = Properties{
			"bucket":     "${artifact.bucketName}",
			"key":        "${artifact.key}",
			"bundleType": "zip",
		}
	}
	b.add(PhaseStepPrepareSteps, "")
	b.add(PhaseStepDeployAWSCodeDeploy, "", stepSpec{tag: StepAWSCodeDeployState, props: props})
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func sshTemplate(b *slotBuilder, req TemplateRequest) error {
	selectTag, err := nodeSelectTag(req)
	if err != nil {
		return err
	}
	var commands ServiceCommands
	if req.Service != nil {
		commands = req.Service.Commands
	}
	loadBalancer := ""
	if req.Infra != nil {
		loadBalancer = req.Infra.LoadBalancerID
	}

	b.add(PhaseStepSelectNodes, "", stepSpec{tag: selectTag})

	disable := commandSteps(commands.Disable)
	if loadBalancer != "" {
		disable = append(disable, elbStep(loadBalancer, "Disable"))
	}
	b.add(PhaseStepDisableService, "", disable...)
	b.add(PhaseStepDeployService, "", commandSteps(commands.Install)...)

	enable := commandSteps(commands.Enable)
	if loadBalancer != "" {
		enable = append(enable, elbStep(loadBalancer, "Enable"))
	}
	b.add(PhaseStepEnableService, "", enable...)
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

// nodeSelectTag picks exactly one node selection action for an SSH phase.
func nodeSelectTag(req TemplateRequest) (string, error) {
	if req.Topology == TopologyRolling {
		return StepRollingNodeSelect, nil
	}
	if req.Infra == nil {
		return "", NewConfigurationError("SSH phase requires an infrastructure target", nil)
	}
	switch req.Infra.Type {
	case InfraPhysicalDataCenter:
		return StepDCNodeSelect, nil
	case InfraAWSSSH:
		return StepAWSNodeSelect, nil
	default:
		return "", NewConfigurationError(
			fmt.Sprintf("node selection is not supported for infrastructure type %s with topology %s",
				req.Infra.Type, req.Topology),
			nil,
		).WithResource(req.Infra.ID)
	}
}

// verifyCommands fills the verify slot of every template with the service's
// verify commands.
func verifyCommands(req TemplateRequest) []stepSpec {
	if req.Service == nil {
		return nil
	}
	return commandSteps(req.Service.Commands.Verify)
}

func commandSteps(names []string) []stepSpec {
	specs := make([]stepSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, stepSpec{
			tag:   StepCommand,
			name:  name,
			props: Properties{"commandName": name},
		})
	}
	return specs
}

func elbStep(loadBalancerID, operation string) stepSpec {
	return stepSpec{
		tag:  StepElasticLoadBalancer,
		name: fmt.Sprintf("%s Load Balancer", operation),
		props: Properties{
			"operation":      operation,
			"loadBalancerId": loadBalancerID,
		},
	}
}
