package reactor

import "time"

// poller is the thin wrapper over the OS readiness primitive that
// spec §4.2 describes: it translates an interest set into a list of
// active channels. Selection between backends (epoll on Linux, kqueue
// on Darwin) is a build-time/deployment choice, never a runtime one;
// newPoller resolves to whichever backend this file's platform twin
// provides.
type poller interface {
	// poll blocks up to timeout on the readiness primitive, then
	// appends every channel with pending events onto active,
	// populating each channel's received-event mask first. It returns
	// the timestamp at which poll returned.
	poll(timeout time.Duration, active *[]*Channel) (time.Time, error)
	// updateChannel synchronizes ch's interest mask with the kernel
	// set, tolerating new->deleted->added transitions.
	updateChannel(ch *Channel) error
	// removeChannel unregisters ch entirely.
	removeChannel(ch *Channel) error
	close() error
}
