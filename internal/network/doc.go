/*
Package network mediates every outbound request made by sandboxed code.

Each attempt is evaluated before any byte leaves the host:

 1. an empty allowlist disables the network entirely
 2. the URL must parse, use http or https, and the method must be GET
 3. loopback, private, link-local and similar literal hosts are denied
    regardless of the allowlist
 4. the hostname must equal an allowlist entry or be a subdomain of one
 5. at dial time every resolved address is checked again, so a name that
    resolves to a private address is refused (DNS rebinding)

Redirects go through the same policy. Requests are made with resty, with a
fixed per-request timeout and no retries. A Mediator belongs to one
invocation: its request counter, rate limiter and per-host circuit breakers
are never shared.

Fetch never returns an error. Every outcome, including policy rejections,
is reported in the Response so sandboxed code can inspect it.
*/
package network
