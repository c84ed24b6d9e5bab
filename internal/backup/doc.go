// Package backup is the orchestration engine behind backup export and
// restore of the local data store.
//
// # Overview
//
// A Job owns a private staging directory, a lifecycle state and a
// non-owning reference to its Delegate. ExportJob enumerates the data
// store's database and attachment files, encrypts each one under its own
// random key, uploads it through BackupIO and finally uploads an encrypted
// manifest that lists every item. RestoreJob downloads that manifest,
// validates it, downloads and decrypts every item (database items first)
// and hands the staged files to the Storage for the final apply.
//
// # Lifecycle
//
//	NotStarted → Running → {Succeeded, Failed, Cancelled}
//
// Terminal states are absorbing. The first of Succeed, FailWithError and
// Cancel wins; everything after it is a no-op. The delegate sees exactly one
// of BackupJobDidSucceed / BackupJobDidFail unless the job was never started
// or was cancelled. All delegate calls run on the job's Dispatcher, one at a
// time, in the order they were issued.
//
// # Cancellation
//
// Cancel cancels the job context, so in-flight BackupIO calls that honor
// their context are interrupted. The runner additionally checks for
// cancellation before every item and before the manifest commit. Transfers
// are never retried by the engine; a failed transfer fails the job.
package backup
