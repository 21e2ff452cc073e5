// Package process runs a backend adapter as a child process started from its
// engine directory. The child has its own address space, so engines built
// against incompatible native libraries never meet. Host and child exchange
// length-prefixed JSON frames over the child's stdin and stdout; stderr is
// forwarded to the host logger.
package process
