package forms

// fieldSelector matches fillable controls. Field indexes are positions in
// container.querySelectorAll(fieldSelector).
const fieldSelector = `input:not([type=hidden]):not([type=submit]):not([type=button]):not([type=image]):not([type=reset]):not([type=file]), textarea, select`

const buttonSelector = `button, input[type=submit], input[type=button], input[type=image], [role=button]`

// containerAttr tags discovered containers so later scripts can find them.
const containerAttr = "data-rc-container"

const submitAttr = "data-rc-submit"

// discoverScript returns forms with at least one fillable control or, when
// there are none, div/section/main/article regions outside any form that
// hold an input and a button.
const discoverScript = `() => {
  const FIELDS = '` + fieldSelector + `';
  const BUTTONS = '` + buttonSelector + `';
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    const s = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
  };
  const describe = (container, kind, index) => {
    container.setAttribute('` + containerAttr + `', kind + '-' + index);
    const fields = Array.from(container.querySelectorAll(FIELDS)).map((el, i) => ({
      tag: el.tagName.toLowerCase(),
      type: (el.tagName === 'INPUT' ? (el.getAttribute('type') || 'text') : el.tagName).toLowerCase(),
      name: el.getAttribute('name') || '',
      id: el.id || '',
      index: i,
      disabled: !!el.disabled,
      readonly: !!el.readOnly,
      visible: visible(el),
    }));
    const buttons = Array.from(container.querySelectorAll(BUTTONS)).map((el, i) => ({
      tag: el.tagName.toLowerCase(),
      type: (el.getAttribute('type') || '').toLowerCase(),
      text: (el.innerText || el.value || '').trim().slice(0, 80),
      index: i,
    }));
    const isForm = kind === 'form';
    return {
      type: kind,
      container_index: index,
      action: isForm ? (container.getAttribute('action') || '') : '',
      method: isForm ? (container.getAttribute('method') || '') : '',
      fields,
      buttons,
    };
  };
  const out = [];
  document.querySelectorAll('form').forEach((f) => {
    if (f.querySelector(FIELDS)) out.push(describe(f, 'form', out.length));
  });
  if (out.length > 0) return out;
  document.querySelectorAll('div, section, main, article').forEach((c) => {
    if (c.closest('form')) return;
    if (!c.querySelector(FIELDS) || !c.querySelector(BUTTONS)) return;
    out.push(describe(c, 'spa-region', out.length));
  });
  return out;
}`

// fillScript sets one field. Text-like values go through the native value
// setter so framework bindings see the change.
const fillScript = `(scope, index, value) => {
  const root = document.querySelector(scope);
  if (!root) return { ok: false, reason: 'container not found' };
  const el = root.querySelectorAll('` + fieldSelector + `')[index];
  if (!el) return { ok: false, reason: 'field not found' };
  if (el.disabled || el.readOnly) return { ok: false, reason: 'not editable' };
  const fire = (name) => el.dispatchEvent(new Event(name, { bubbles: true }));
  const tag = el.tagName.toLowerCase();
  const type = (el.type || '').toLowerCase();
  if (type === 'checkbox' || type === 'radio') {
    if (!el.checked) el.click();
    el.checked = true;
    fire('change');
    return { ok: true };
  }
  if (tag === 'select') {
    const opts = Array.from(el.options);
    const pick = opts.length === 1 ? opts[0] : opts.find((o) => o.value !== '');
    if (!pick) return { ok: false, reason: 'no options' };
    el.value = pick.value;
    fire('input');
    fire('change');
    return { ok: true };
  }
  const proto = tag === 'textarea' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
  el.focus();
  setter.call(el, '');
  setter.call(el, value);
  fire('input');
  fire('change');
  el.blur();
  el.dispatchEvent(new Event('blur'));
  return { ok: true };
}`

// markSubmitScript tags the first visible control in scope whose text
// matches the submit vocabulary.
const markSubmitScript = `(scope, words) => {
  const root = document.querySelector(scope);
  if (!root) return false;
  const re = new RegExp('\\b(' + words.join('|') + ')\\b', 'i');
  const cands = root.querySelectorAll('button, input[type=submit], input[type=button], a, [role=button], [onclick]');
  for (const el of cands) {
    if (el.disabled) continue;
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    const text = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim();
    if (text && re.test(text)) {
      el.setAttribute('` + submitAttr + `', '1');
      return true;
    }
  }
  return false;
}`

// submitWords is the submit-intent vocabulary.
var submitWords = []string{"submit", "continue", "next", "login", "log in", "sign in", "go", "search"}
