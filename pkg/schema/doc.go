/*
Package schema parses Conductor's declarative configuration documents.

Two documents plus one per-agent pair live at well-known paths under the
orchestration root:

	config/project.yml    project record, task source, layout paths, phases
	config/agents.yml     agent key -> definition directory, validation profiles
	agents/<key>/config.yml   agent type fields (minus the key)
	agents/<key>/prompt.md    prompt artifact consumed at deploy time

Load failures carry a LoadErrorKind (syntax, missing_file, missing_field,
type_mismatch) and the offending location so the registry can surface a
precise message. No YAML detail leaks past this package; callers receive
typed records from the types package.

Unknown fields are ignored on read and the documents are never rewritten,
so operator annotations in the YAML survive.
*/
package schema
