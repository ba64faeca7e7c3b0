// Package people turns the participants an extraction run reports into
// durable Person records and interview links.
//
// Resolution is deliberately conservative: a participant whose best name is
// a generic label ("Speaker B", "Participant 2", "Interviewer") never creates
// a Person. Such speakers stay unlinked transcript labels unless a user has
// already linked that label to someone, in which case the existing link is
// reused. The package also owns the attribution parity check that compares
// evidence_people against the person recorded on each facet mention.
package people
