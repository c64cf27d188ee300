// Package preflight provides readiness checks for the filesystem paths and
// the voice provider that narrasync depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failing check.
//   - The CLI "narrasync status" command renders the results as a table.
//
// The voice provider check is skipped when no base URL is configured;
// regeneration is then unavailable but editing still works.
package preflight
