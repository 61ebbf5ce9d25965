// Package permission implements the capability catalog and per-plugin
// grant state that gate everything plugins do.
//
// # Model
//
// Permissions form a closed catalog of category:action capabilities
// ([Types] lists it). A plugin's manifest declares the permissions it
// requires and the ones it can optionally use; the user grants a subset
// of those through the consent flow. The core invariant, enforced on
// every mutation and on load:
//
//	Granted ⊆ Required ∪ Optional
//
// A plugin can never hold a permission it did not declare, no matter what
// the state file on disk says.
//
// # Registry
//
// [Registry] persists every plugin's [PluginPermissions] in a single JSON
// document, written through on each mutation under a file lock so
// concurrent osprey processes cannot interleave writes. Reads answer
// fail-closed: [Registry.Check] is false for unknown plugins, unknown
// permissions, and anything not explicitly granted. It never returns an
// error; the answer to "may it?" defaults to no.
//
//	registry, err := permission.NewRegistry(path, logger)
//	perms, err := registry.Register("web-clipper", "1.2.0",
//	    []permission.Type{permission.NetworkWeb}, nil)
//	err = registry.Grant("web-clipper", permission.NetworkWeb)
//	allowed := registry.Check("web-clipper", permission.NetworkWeb)
package permission
