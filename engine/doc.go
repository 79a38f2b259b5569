// Package engine drives a script engine compiled to a wasm32 core
// module through the wazero runtime.
//
// The guest is a QuickJS build whose runtime allocator is replaced by
// host imports, so every allocation the script engine makes is served,
// counted and optionally traced by the host-side allocator chain in the
// alloc package.
//
// # Architecture
//
// The package provides two main types:
//
//	WazeroEngine - One guest instance: runtime handle, allocator chain, job queue
//	Manifest     - YAML sidecar describing an engine binary's memory layout
//
// NewRealm returns evaluation contexts behind the root package's Realm
// interface; realms are owned by their engine and die with it.
//
// # Construction Flow
//
//  1. Preflight() scans the binary's export section for the required ABI
//  2. WASI preview1 and the env host module are instantiated
//  3. The guest is instantiated with start functions cleared
//  4. The host heap is carved at the end of the guest's initial memory
//     and the bounded tracing allocator is wired over it
//  5. _initialize runs by hand, then qjs_runtime_new brings up the
//     script runtime; a zero handle reports construction failure
//
// # Guest ABI
//
// The guest imports the allocator vtable and loader bridge from module
// env and exports qjs_*-prefixed entry points:
//
//	Import                 Signature                  Role
//	──────────────────────────────────────────────────────────────────
//	host_rt_alloc          (size) -> ptr              runtime malloc
//	host_rt_realloc        (ptr, size) -> ptr         runtime realloc
//	host_rt_free           (ptr)                      runtime free
//	host_rt_usable_size    (ptr) -> size              block capacity probe
//	host_normalize_module  (base, ref, out) -> ok     import resolution
//	host_load_module       (name, out) -> ok          module source fetch
//	host_reject            (reason, handled)          rejection tracker
//
// String arguments travel as (ptr, len) pairs; loader results are
// written as a {ptr,len} struct whose buffer comes from the counted
// allocator because the guest releases it through its own free path.
// Stdio is plain WASI fd_write, bound to the configured writers.
//
// # Value Handles
//
// Script values cross the boundary as uint32 handles. Handle 0 is the
// absent value and bit 31 marks exceptions, so failure checks never
// need a guest call. Realms track live handles and release leaked ones
// on Close.
//
// # Thread Safety
//
// WazeroEngine and its realms are NOT safe for concurrent use. The
// process model is one logical thread of control per engine; nothing in
// the guest expects reentrancy.
//
// # Known Limitations
//
// The guest must be a wasm32 core module exporting its linear memory;
// components and Memory64 builds are not supported. Worker realms share
// the primary engine's job queue rather than running on their own
// threads.
//
// Most users should use the runtime package, which layers source
// classification, evaluation dispatch and process bootstrap on top of
// this package.
package engine
