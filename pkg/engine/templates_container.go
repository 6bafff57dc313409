package engine

func ecsStandardTemplate(b *slotBuilder, req TemplateRequest) error {
	if req.NeedsSetup {
		tag := StepECSServiceSetup
		if req.DaemonSet {
			tag = StepECSDaemonServiceSetup
		}
		b.add(PhaseStepContainerSetup, "", stepSpec{tag: tag})
	}
	// Daemon services reconcile on their own.
	if !req.DaemonSet {
		b.add(PhaseStepContainerDeploy, "", stepSpec{
			tag:   StepECSServiceDeploy,
			name:  "Upgrade Containers",
			props: percentage(100),
		})
	}
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func ecsBlueGreenTemplate(b *slotBuilder, req TemplateRequest) error {
	if req.NeedsSetup {
		b.add(PhaseStepContainerSetup, "", stepSpec{
			tag:   StepECSBGServiceSetup,
			props: Properties{"resizeStrategy": "RESIZE_NEW_FIRST", "useLoadBalancer": true},
		})
	}
	b.add(PhaseStepContainerDeploy, "", stepSpec{tag: StepECSServiceDeploy, props: percentage(100)})
	b.add(PhaseStepVerifyService, "", verifyCommands(req)...)
	b.add(PhaseStepECSUpdateListenerBG, "", stepSpec{
		tag:   StepECSListenerUpdate,
		props: Properties{"downsizeOldService": true},
	})
	b.add(PhaseStepWrapUp, "")
	return nil
}

func ecsRoute53Template(b *slotBuilder, req TemplateRequest) error {
	if req.NeedsSetup {
		b.add(PhaseStepContainerSetup, "", stepSpec{
			tag:   StepECSBGServiceSetupRoute53,
			props: Properties{"resizeStrategy": "RESIZE_NEW_FIRST"},
		})
	}
	b.add(PhaseStepContainerDeploy, "", stepSpec{tag: StepECSServiceDeploy, props: percentage(100)})
	b.add(PhaseStepVerifyService, "", verifyCommands(req)...)
	b.add(PhaseStepECSUpdateRoute53DNSWeight, "", stepSpec{
		tag: StepECSRoute53DNSWeightUpdate,
		props: Properties{
			"downsizeOldService":  true,
			"oldServiceDNSWeight": 0,
			"newServiceDNSWeight": 100,
			"recordTTL":           60,
		},
	})
	b.add(PhaseStepWrapUp, "")
	return nil
}

// kubernetesSetupSlots adds nothing when the phase skips setup, including the
// cluster provisioning of a RUNTIME cluster.
func kubernetesSetupSlots(b *slotBuilder, req TemplateRequest, setupProps Properties) {
	if req.NeedsSetup {
		if req.Infra != nil && req.Infra.ClusterName == RuntimeClusterName {
			b.add(PhaseStepClusterSetup, "", stepSpec{tag: StepGCPClusterSetup})
		}
		props := Properties{
			"replicationControllerName": "${app.name}-${service.name}-${env.name}",
			"resizeStrategy":            "RESIZE_NEW_FIRST",
		}
		for k, v := range setupProps {
			props[k] = v
		}
		b.add(PhaseStepContainerSetup, "", stepSpec{tag: StepKubernetesSetup, props: props})
	}
}

func kubernetesStandardTemplate(b *slotBuilder, req TemplateRequest) error {
	kubernetesSetupSlots(b, req, nil)
	if !req.DaemonSet && !req.StatefulSet {
		props := Properties{"instanceUnitType": "PERCENTAGE"}
		if req.Topology == TopologyBasic {
			props["instanceCount"] = 100
		}
		b.add(PhaseStepContainerDeploy, "", stepSpec{tag: StepKubernetesDeploy, props: props})
	}
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func kubernetesCanaryTemplate(b *slotBuilder, req TemplateRequest) error {
	kubernetesSetupSlots(b, req, nil)
	if !req.DaemonSet && !req.StatefulSet {
		b.add(PhaseStepScale, "Scale 50%", scaleSteps(50, 50)...)
		b.add(PhaseStepScale, "Scale 100%", scaleSteps(100, 0)...)
	}
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

// scaleSteps scales the current release up and the previous release down.
// The workload expressions are resolved by the executor.
func scaleSteps(upPercent, downPercent int) []stepSpec {
	return []stepSpec{
		{
			tag:  StepKubernetesScale,
			name: "Scale Up New",
			props: Properties{
				"workload":         "${currentRelease}",
				"instanceUnitType": "PERCENTAGE",
				"instanceCount":    upPercent,
			},
		},
		{
			tag:  StepKubernetesScale,
			name: "Scale Down Old",
			props: Properties{
				"workload":         "${previousRelease}",
				"instanceUnitType": "PERCENTAGE",
				"instanceCount":    downPercent,
			},
		},
	}
}

func kubernetesBlueGreenTemplate(b *slotBuilder, req TemplateRequest) error {
	service := func() Properties {
		return Properties{"type": "ClusterIP", "port": 80, "targetPort": 8080, "protocol": "TCP"}
	}
	kubernetesSetupSlots(b, req, Properties{
		"blueGreen": true,
		"blueGreenConfig": Properties{
			"primaryService": service(),
			"stageService":   service(),
		},
	})
	b.add(PhaseStepContainerDeploy, "", stepSpec{tag: StepKubernetesDeploy, props: percentage(100)})
	b.add(PhaseStepVerifyService, "Verify Stage Service", verifyCommands(req)...)
	b.add(PhaseStepRouteUpdate, "", stepSpec{
		tag: StepKubernetesSwapServiceSelectors,
		props: Properties{
			"service1": "${k8s.primaryServiceName}",
			"service2": "${k8s.stageServiceName}",
		},
	})
	b.add(PhaseStepWrapUp, "")
	return nil
}

func helmTemplate(b *slotBuilder, req TemplateRequest) error {
	b.add(PhaseStepHelmDeploy, "", stepSpec{
		tag:   StepHelmDeploy,
		props: Properties{"steadyStateTimeout": 10},
	})
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func pcfStandardTemplate(b *slotBuilder, req TemplateRequest) error {
	if req.NeedsSetup {
		b.add(PhaseStepPCFSetup, "", stepSpec{
			tag: StepPCFSetup,
			props: Properties{
				"blueGreen":      false,
				"resizeStrategy": "DOWNSIZE_OLD_FIRST",
				"route":          "${infra.route}",
			},
		})
	}
	b.add(PhaseStepPCFResize, "", stepSpec{tag: StepPCFResize})
	b.verifyAndWrapUp("", verifyCommands(req)...)
	return nil
}

func pcfBlueGreenTemplate(b *slotBuilder, req TemplateRequest) error {
	if req.NeedsSetup {
		b.add(PhaseStepPCFSetup, "", stepSpec{
			tag: StepPCFSetup,
			props: Properties{
				"blueGreen":      true,
				"resizeStrategy": "RESIZE_NEW_FIRST",
				"tempRoute":      "${infra.tempRoute}",
			},
		})
	}
	b.add(PhaseStepPCFResize, "", stepSpec{tag: StepPCFResize, props: percentage(100)})
	b.add(PhaseStepVerifyService, "Verify Staging", verifyCommands(req)...)
	b.add(PhaseStepPCFSwitchRoutes, "", stepSpec{
		tag:   StepPCFBGMapRoute,
		props: Properties{"downsizeOldApps": false},
	})
	b.add(PhaseStepWrapUp, "")
	return nil
}
