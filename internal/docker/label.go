package docker

import (
	"fmt"

	"github.com/docker/docker/api/types/filters"
)

// Labels a containerised client must carry so the duplicate-run guard can
// find it. All keys share the "client-runner." prefix.
const (
	LabelPrefix = "client-runner."

	// LabelManagedBy marks containers started for client-runner.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelModule is the module name, the same identity the host process
	// table matches on.
	LabelModule = LabelPrefix + "module"

	// LabelResourceClass is informational: the pool partition the
	// container's ports come from.
	LabelResourceClass = LabelPrefix + "resource-class"
)

// ManagedByValue is the value of LabelManagedBy.
const ManagedByValue = "client-runner"

// BuildLabels returns the labels to put on a container running module.
// resourceClass may be empty.
func BuildLabels(module, resourceClass string) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelModule:    module,
	}
	if resourceClass != "" {
		labels[LabelResourceClass] = resourceClass
	}
	return labels
}

// ParseModule extracts the module name from container labels.
func ParseModule(labels map[string]string) (string, error) {
	if labels[LabelManagedBy] != ManagedByValue {
		return "", fmt.Errorf("label %s has unexpected value %q (expected %q)",
			LabelManagedBy, labels[LabelManagedBy], ManagedByValue)
	}
	module := labels[LabelModule]
	if module == "" {
		return "", fmt.Errorf("missing required Docker label: %s", LabelModule)
	}
	return module, nil
}

// ModuleFilter returns the Docker API filter selecting containers of
// module. An empty module selects every managed container.
func ModuleFilter(module string) filters.Args {
	args := filters.NewArgs(filters.Arg("label", LabelManagedBy+"="+ManagedByValue))
	if module != "" {
		args.Add("label", LabelModule+"="+module)
	}
	return args
}
