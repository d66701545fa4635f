/*
Package config loads the orchestrator's runtime settings.

Settings cover timeouts, retention counts and the names of external
commands (session host binary, process sampler). They are read from an
optional .conductor.yaml in the orchestration root, overridable through
CONDUCTOR_* environment variables, and fall back to built-in defaults.

These settings are deliberately separate from the declarative project
documents under config/, which are owned by the schema package.
*/
package config
