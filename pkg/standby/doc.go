// Package standby reports the standby state of a local Linux session, for devices where it is not
// available from the host.
//
// Two sources are provided:
//   - [NewWayland] uses the Wayland [ext-idle-notify] protocol; idle is reported as
//     [xapi.StandbyHalfwake] and activity after idle as [xapi.StandbyOff].
//   - [NewLogind] follows the PrepareForSleep signal of [org.freedesktop.login1]; suspending is
//     reported as [xapi.StandbyOn] and resuming as [xapi.StandbyOff]. A delay inhibitor on sleep
//     is held while awake.
//
// [ext-idle-notify]: https://wayland.app/protocols/ext-idle-notify-v1
// [org.freedesktop.login1]: https://www.freedesktop.org/software/systemd/man/latest/org.freedesktop.login1.html
package standby
