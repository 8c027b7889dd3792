// Package shared provides implementers usable from any step.
//
//	implementers.shared.Command    runs an external program
//	implementers.shared.Artifacts  publishes configured artifacts and evidence
package shared

import "github.com/ormasoftchile/steprunner/pkg/step"

// Qualified implementer names.
const (
	NameCommand   = step.DefaultNamespace + ".shared.Command"
	NameArtifacts = step.DefaultNamespace + ".shared.Artifacts"
)

// Register adds the shared implementers to reg. A nil executor runs
// commands with RealExecutor.
func Register(reg *step.Registry, executor Executor) error {
	if executor == nil {
		executor = &RealExecutor{}
	}
	if err := reg.Register(NameCommand, commandDescriptor(executor)); err != nil {
		return err
	}
	return reg.Register(NameArtifacts, artifactsDescriptor())
}
