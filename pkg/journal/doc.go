/*
Package journal keeps an append-only history of orchestration events.

Deployments, bulk stops, sends and workspace initialization each leave a
typed record in a bbolt database under the log root. The status verb
surfaces the recent tail so an operator can see what the orchestrator did
last without grepping logs. Appends are best-effort: a journal failure
never fails the operation that emitted the event.
*/
package journal
