// ABOUTME: Package documentation for audio output backends
// ABOUTME: Describes the hardware device abstraction and available backends
/*
Package output abstracts the playback hardware behind the Output interface.

Two backends are provided:

  - ALSA: direct exclusive access to an ALSA hardware device (hw:C,D) with
    exact format configuration. This is the bit-perfect path; samples reach
    the device untouched.
  - Oto: a shared-mode fallback for systems without /dev/snd access. Oto
    routes through the OS mixer and is explicitly NOT bit-perfect.

Outputs are configured with an exact hardware format and either accept it
or fail. They never resample or convert behind the caller's back.
*/
package output
