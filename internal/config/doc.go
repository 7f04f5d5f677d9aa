// Package config provides configuration loading and path management.
//
// Files are JSON with comments (JSONC) and are merged in this order, later
// sources overriding earlier ones:
//
//  1. $XDG_CONFIG_HOME/agentpool/agentpool.json[c] (or AGENTPOOL_CONFIG_DIR)
//  2. <dir>/agentpool.json[c]
//  3. <dir>/.agentpool/agentpool.json[c]
//  4. the file named by AGENTPOOL_CONFIG
//  5. inline JSON in AGENTPOOL_CONFIG_CONTENT
//  6. AGENTPOOL_MODEL, AGENTPOOL_PORT, AGENTPOOL_DEFAULT_PRESET,
//     AGENTPOOL_UNKNOWN_TARGETS and provider API key variables
//
// String values may reference {env:VAR} and {file:path}; relative file paths
// resolve against the directory of the config that names them.
//
// Custom presets come from pool.presetsFile (YAML, name to definition) and the
// inline "presets" object:
//
//	reviewer:
//	  base: trusted
//	  description: read-only reviewer
//	  tools:
//	    write: {enabled: false}
//	    send_message: {allowedTargets: parent}
package config
