// ax_darwin.go implements System and Element on top of the macOS
// Accessibility API (AXUIElement) and NSRunningApplication.

//go:build darwin && cgo

package ax

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework AppKit -framework Foundation

#include <stdlib.h>
#include <ApplicationServices/ApplicationServices.h>
#import <AppKit/AppKit.h>

static int axTrusted(int prompt) {
	int ok;
	@autoreleasepool {
		NSDictionary *opts = @{(__bridge id)kAXTrustedCheckOptionPrompt: prompt ? @YES : @NO};
		ok = AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)opts) ? 1 : 0;
	}
	return ok;
}

static int axRunning(const char *bundleID, int *pid) {
	int found = 0;
	@autoreleasepool {
		NSString *bid = [NSString stringWithUTF8String:bundleID];
		NSArray<NSRunningApplication *> *apps = [NSRunningApplication runningApplicationsWithBundleIdentifier:bid];
		for (NSRunningApplication *app in apps) {
			if (app.terminated) {
				continue;
			}
			*pid = (int)app.processIdentifier;
			found = 1;
			break;
		}
	}
	return found;
}

static AXUIElementRef axApplication(int pid, float timeout) {
	AXUIElementRef app = AXUIElementCreateApplication((pid_t)pid);
	if (app != NULL) {
		AXUIElementSetMessagingTimeout(app, timeout);
	}
	return app;
}

static AXError axCopy(AXUIElementRef el, const char *name, CFTypeRef *out) {
	CFStringRef attr = CFStringCreateWithCString(NULL, name, kCFStringEncodingUTF8);
	AXError err = AXUIElementCopyAttributeValue(el, attr, out);
	CFRelease(attr);
	return err;
}

static char *cfToUTF8(CFStringRef s) {
	CFIndex len = CFStringGetLength(s);
	CFIndex max = CFStringGetMaximumSizeForEncoding(len, kCFStringEncodingUTF8) + 1;
	char *buf = malloc(max);
	if (buf == NULL) {
		return NULL;
	}
	if (!CFStringGetCString(s, buf, max, kCFStringEncodingUTF8)) {
		free(buf);
		return NULL;
	}
	return buf;
}

// axString returns a malloc'd UTF-8 copy of a string or URL attribute.
// *status is 0 on success, 1 for a missing or mistyped value, 2 for an
// access error.
static char *axString(AXUIElementRef el, const char *name, int *status) {
	CFTypeRef v = NULL;
	AXError err = axCopy(el, name, &v);
	if (err == kAXErrorNoValue || err == kAXErrorAttributeUnsupported) {
		*status = 1;
		return NULL;
	}
	if (err != kAXErrorSuccess || v == NULL) {
		*status = 2;
		return NULL;
	}
	char *out = NULL;
	if (CFGetTypeID(v) == CFStringGetTypeID()) {
		out = cfToUTF8((CFStringRef)v);
	} else if (CFGetTypeID(v) == CFURLGetTypeID()) {
		out = cfToUTF8(CFURLGetString((CFURLRef)v));
	}
	CFRelease(v);
	*status = out == NULL ? 1 : 0;
	return out;
}

// axElement returns a retained element attribute or NULL.
static AXUIElementRef axElement(AXUIElementRef el, const char *name, int *status) {
	CFTypeRef v = NULL;
	AXError err = axCopy(el, name, &v);
	if (err == kAXErrorNoValue || err == kAXErrorAttributeUnsupported) {
		*status = 1;
		return NULL;
	}
	if (err != kAXErrorSuccess || v == NULL) {
		*status = 2;
		return NULL;
	}
	if (CFGetTypeID(v) != AXUIElementGetTypeID()) {
		CFRelease(v);
		*status = 1;
		return NULL;
	}
	*status = 0;
	return (AXUIElementRef)v;
}

// axElements returns a retained array attribute or NULL.
static CFArrayRef axElements(AXUIElementRef el, const char *name, int *status) {
	CFTypeRef v = NULL;
	AXError err = axCopy(el, name, &v);
	if (err == kAXErrorNoValue || err == kAXErrorAttributeUnsupported) {
		*status = 1;
		return NULL;
	}
	if (err != kAXErrorSuccess || v == NULL) {
		*status = 2;
		return NULL;
	}
	if (CFGetTypeID(v) != CFArrayGetTypeID()) {
		CFRelease(v);
		*status = 1;
		return NULL;
	}
	*status = 0;
	return (CFArrayRef)v;
}

static CFIndex arrayLen(CFArrayRef a) { return CFArrayGetCount(a); }

// arrayElement returns a retained element at i, or NULL if the item is not
// an AXUIElement.
static AXUIElementRef arrayElement(CFArrayRef a, CFIndex i) {
	CFTypeRef v = CFArrayGetValueAtIndex(a, i);
	if (v == NULL || CFGetTypeID(v) != AXUIElementGetTypeID()) {
		return NULL;
	}
	CFRetain(v);
	return (AXUIElementRef)v;
}

static void release(CFTypeRef v) { if (v != NULL) CFRelease(v); }
*/
import "C"

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// messagingTimeout bounds each accessibility IPC call so a hung target
// application cannot stall a poll.
const messagingTimeout = 0.5

// ///////////////////////////////////////////////
// System
// ///////////////////////////////////////////////

type darwinSystem struct{}

// NewSystem returns the macOS accessibility backend.
func NewSystem() (System, error) {
	return darwinSystem{}, nil
}

func (darwinSystem) Trusted(prompt bool) bool {
	p := C.int(0)
	if prompt {
		p = 1
	}
	return C.axTrusted(p) == 1
}

func (darwinSystem) Running(bundleID string) (Process, bool) {
	cs := C.CString(bundleID)
	defer C.free(unsafe.Pointer(cs))
	var pid C.int
	if C.axRunning(cs, &pid) != 1 {
		return Process{}, false
	}
	p := Process{PID: int(pid), BundleID: bundleID}
	p.Launched, _ = launchTime(p.PID)
	return p, true
}

func (darwinSystem) Application(p Process) (Element, error) {
	ref := C.axApplication(C.int(p.PID), C.float(messagingTimeout))
	if ref == 0 {
		return nil, fmt.Errorf("create application element for pid %d", p.PID)
	}
	return wrap(ref), nil
}

// launchTime reads the process start time from the kernel.
func launchTime(pid int) (time.Time, bool) {
	kp, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return time.Time{}, false
	}
	tv := kp.Proc.P_starttime
	if tv.Sec == 0 {
		return time.Time{}, false
	}
	return time.Unix(tv.Sec, int64(tv.Usec)*1000), true
}

// ///////////////////////////////////////////////
// Element
// ///////////////////////////////////////////////

// element owns one retained AXUIElementRef, released by a finalizer.
type element struct {
	ref C.AXUIElementRef
}

func wrap(ref C.AXUIElementRef) *element {
	e := &element{ref: ref}
	runtime.SetFinalizer(e, func(e *element) {
		C.release(C.CFTypeRef(e.ref))
	})
	return e
}

func statusErr(status C.int) error {
	if status == 1 {
		return ErrNoValue
	}
	return fmt.Errorf("accessibility read failed")
}

func (e *element) String(name Attribute) (string, error) {
	cn := C.CString(string(name))
	defer C.free(unsafe.Pointer(cn))
	var status C.int
	out := C.axString(e.ref, cn, &status)
	runtime.KeepAlive(e)
	if out == nil {
		return "", statusErr(status)
	}
	defer C.free(unsafe.Pointer(out))
	return C.GoString(out), nil
}

func (e *element) Element(name Attribute) (Element, error) {
	cn := C.CString(string(name))
	defer C.free(unsafe.Pointer(cn))
	var status C.int
	ref := C.axElement(e.ref, cn, &status)
	runtime.KeepAlive(e)
	if ref == 0 {
		return nil, statusErr(status)
	}
	return wrap(ref), nil
}

func (e *element) Elements(name Attribute) ([]Element, error) {
	cn := C.CString(string(name))
	defer C.free(unsafe.Pointer(cn))
	var status C.int
	// Naming C.CFArrayRef makes cgo map it to uintptr like the other CF refs.
	var arr C.CFArrayRef = C.axElements(e.ref, cn, &status)
	runtime.KeepAlive(e)
	if arr == 0 {
		return nil, statusErr(status)
	}
	defer C.release(C.CFTypeRef(arr))
	n := int(C.arrayLen(arr))
	out := make([]Element, 0, n)
	for i := range n {
		ref := C.arrayElement(arr, C.CFIndex(i))
		if ref == 0 {
			continue
		}
		out = append(out, wrap(ref))
	}
	return out, nil
}
