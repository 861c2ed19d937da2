package browser

import (
	"fmt"

	"sipdmod/internal/host"
)

const (
	// bindingName is the exposed Go callback the page hook reports through.
	bindingName = "__sipdmodEmit"
	// nodeAttr tags elements handed out as host.Node so later calls can find
	// them again.
	nodeAttr = "data-sipd-node"
	// savedLabelAttr keeps a control's label while it shows the busy label.
	savedLabelAttr = "data-sipd-label"
)

// hookScript is installed on every new document and evaluated once in the
// current one. It reports mutations, route changes, panel clicks and
// transitionend events through the binding.
var hookScript = fmt.Sprintf(`(() => {
	const w = window;
	if (w.__sipdmodHooked) return true;
	w.__sipdmodHooked = true;

	const emit = (ev) => {
		const f = w[%[1]q];
		if (typeof f !== 'function') return;
		try { Promise.resolve(f(ev)).catch(() => {}); } catch (e) {}
	};

	const observe = () => {
		const obs = new MutationObserver((records) => {
			let structural = false;
			const attrs = new Set();
			for (const r of records) {
				if (r.type === 'childList') structural = true;
				else if (r.attributeName) attrs.add(r.attributeName);
			}
			if (structural) emit({ type: 'mutation', kind: 'childList' });
			attrs.forEach((a) => emit({ type: 'mutation', kind: 'attributes', attr: a }));
		});
		obs.observe(document.documentElement, {
			childList: true,
			subtree: true,
			attributes: true,
			attributeFilter: ['style', 'class'],
		});
	};
	if (document.documentElement) observe();
	else document.addEventListener('DOMContentLoaded', observe);

	if (w.navigation) {
		w.navigation.addEventListener('navigatesuccess', () => emit({ type: 'navigate', url: location.href }));
	}
	w.addEventListener('popstate', () => emit({ type: 'history', url: location.href }));

	document.addEventListener('click', (ev) => {
		const el = ev.target && ev.target.closest ? ev.target.closest('[%[2]s]') : null;
		if (!el || el.disabled) return;
		const root = el.closest('[%[3]s]');
		if (!root) return;
		ev.preventDefault();
		const values = {};
		root.querySelectorAll('select[name], input[name]').forEach((f) => { values[f.name] = f.value; });
		emit({
			type: 'action',
			module: root.getAttribute('%[3]s'),
			name: el.getAttribute('%[2]s'),
			values,
		});
	}, true);
	return true;
})()`, bindingName, host.ActionAttr, host.MarkerAttr)

const jsLocation = `() => location.href`

const jsQuery = `(sel, attr, token) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	let t = el.getAttribute(attr);
	if (!t) { t = token; el.setAttribute(attr, t); }
	let desc = el.tagName.toLowerCase();
	if (el.id) desc += '#' + el.id;
	el.classList.forEach((c) => { desc += '.' + c; });
	return { token: t, desc };
}`

const jsInject = `(markerSel, marker, id, anchorSel, pos, markup, attr, token) => {
	if (document.querySelector(markerSel)) return 'exists';
	const anchor = document.querySelector(anchorSel);
	if (!anchor || !anchor.isConnected) return 'detached';
	if ((pos === 'beforebegin' || pos === 'afterend') && !anchor.parentElement) return 'detached';
	const root = document.createElement('div');
	root.setAttribute(marker, id);
	root.setAttribute(attr, token);
	root.innerHTML = markup;
	anchor.insertAdjacentElement(pos, root);
	return 'ok';
}`

const jsRemove = `(sel) => {
	const els = document.querySelectorAll(sel);
	els.forEach((e) => e.remove());
	return els.length;
}`

const jsStyle = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return null;
	const s = getComputedStyle(el);
	const running = s.transitionDuration.split(',').some((d) => parseFloat(d) > 0);
	return { opacity: parseFloat(s.opacity), transition: running ? s.transitionProperty : 'none' };
}`

const jsTransitionEnd = `(sel, binding, token) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.addEventListener('transitionend', () => {
		const f = window[binding];
		if (typeof f === 'function') Promise.resolve(f({ type: 'transitionend', token })).catch(() => {});
	}, { once: true });
	return true;
}`

const jsSetContent = `(rootSel, sel, markup) => {
	const root = document.querySelector(rootSel);
	const el = root && root.querySelector(sel);
	if (!el) return false;
	el.innerHTML = markup;
	return true;
}`

const jsSetBusy = `(rootSel, control, busy, label, saved) => {
	const root = document.querySelector(rootSel);
	const ctl = root && root.querySelector('[name="' + control + '"]');
	if (!ctl) return false;
	const target = ctl.querySelector('.btn-label') || ctl;
	if (busy) {
		ctl.disabled = true;
		if (!ctl.hasAttribute(saved)) ctl.setAttribute(saved, target.textContent);
		target.textContent = label;
	} else {
		ctl.disabled = false;
		if (ctl.hasAttribute(saved)) {
			target.textContent = ctl.getAttribute(saved);
			ctl.removeAttribute(saved);
		}
	}
	return true;
}`

const jsFormValues = `(rootSel) => {
	const root = document.querySelector(rootSel);
	if (!root) return null;
	const values = {};
	root.querySelectorAll('select[name], input[name]').forEach((f) => { values[f.name] = f.value; });
	return values;
}`

const jsCookie = `(name) => {
	const m = document.cookie.match(new RegExp('(?:^|; )' + name + '=([^;]+)'));
	return m ? decodeURIComponent(m[1]) : '';
}`
