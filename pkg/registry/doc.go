/*
Package registry holds the resolved view of a project's configuration.

The registry is loaded once at startup from the declarative documents
under the orchestration root and stays immutable for the invocation:
project record, agent types (prompts loaded lazily), and validation
profiles. Every path is resolved from the root passed to Load. The
process working directory is never consulted; resolving from the CWD is
how an orchestrator silently loads the wrong agent definitions.

ValidateAll is the engine behind the validate verb: dangling profile
references, missing prompt artifacts, duplicate session names, an
unwritable workspace and an unreachable session host all surface as
typed violations.
*/
package registry
